package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for hashed identities.
// Version suffix enables future algorithm migration.
const (
	DomainDedup       = "annosync/dedup/v1"
	DomainPayload     = "annosync/payload/v1"
	DomainDecorations = "annosync/decorations/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DedupKey computes the coalescing key of a published event: the event
// type plus a hash of its first two arguments. Later arguments never
// influence the key, so events that differ only in trailing context
// collapse together.
//
// Arguments that have no canonical form fall back to their Go syntax
// representation, which is stable for the value types used as event args.
func DedupKey(eventType string, args []any) string {
	head := args
	if len(head) > 2 {
		head = head[:2]
	}
	data, err := MarshalCanonical(map[string]any{
		"type": eventType,
		"args": append([]any(nil), head...),
	})
	if err != nil {
		data = []byte(fmt.Sprintf("%s|%#v", eventType, head))
	}
	return eventType + "-" + hashWithDomain(DomainDedup, data)[:16]
}

// PayloadHash returns a content hash of a payload's observable data.
// Equal payloads (per SamePayload) hash alike.
func PayloadHash(payload []Entry) (string, error) {
	items := make([]any, len(payload))
	for i, e := range payload {
		items[i] = map[string]any{
			"id":      e.ID,
			"type":    e.Type,
			"content": e.Content,
			"caption": e.Caption,
			"number":  e.Number,
			"label":   e.Label,
		}
	}
	data, err := MarshalCanonical(items)
	if err != nil {
		return "", fmt.Errorf("PayloadHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainPayload, data), nil
}

// DecorationHash returns a content hash of an ordered decoration set.
func DecorationHash(decorations []Decoration) (string, error) {
	items := make([]any, len(decorations))
	for i, d := range decorations {
		items[i] = map[string]any{
			"block_id": d.BlockID,
			"kind":     d.Kind,
			"label":    d.Label,
		}
	}
	data, err := MarshalCanonical(items)
	if err != nil {
		return "", fmt.Errorf("DecorationHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDecorations, data), nil
}
