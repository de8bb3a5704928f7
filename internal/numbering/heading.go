package numbering

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/annosync/internal/analyzer"
	"github.com/roach88/annosync/internal/ir"
)

// MaxDepth is the number of heading depths that can be configured.
const MaxDepth = 6

// DefaultFormats are the per-depth label templates used when none are
// configured. {n} is replaced by the counter of depth n.
var DefaultFormats = [MaxDepth]string{
	"{1}. ",
	"{1}.{2} ",
	"{1}.{2}.{3} ",
	"{1}.{2}.{3}.{4} ",
	"{1}.{2}.{3}.{4}.{5} ",
	"{1}.{2}.{3}.{4}.{5}.{6} ",
}

var placeholder = regexp.MustCompile(`\{([1-6])\}`)

// HeadingSettings configures label rendering per compacted depth.
type HeadingSettings struct {
	Formats [MaxDepth]string
	Styles  [MaxDepth]Style
}

// DefaultHeadingSettings returns the default formats with arabic numerals.
func DefaultHeadingSettings() HeadingSettings {
	s := HeadingSettings{Formats: DefaultFormats}
	for i := range s.Styles {
		s.Styles[i] = StyleArabic
	}
	return s
}

// NumberHeadings labels every heading of the outline in document order.
//
// Counters are kept per depth actually used: a document with only H1 and
// H3 numbers them as depths 0 and 1. Entering a heading resets the
// counters of all deeper depths.
func NumberHeadings(root *ir.OutlineNode, settings HeadingSettings) []ir.Entry {
	var headings []*ir.OutlineNode
	root.Walk(func(n *ir.OutlineNode) bool {
		if n.HeadingLevel() > 0 {
			headings = append(headings, n)
		}
		return true
	})
	if len(headings) == 0 {
		return []ir.Entry{}
	}

	depthOf := compactLevels(headings)
	counters := make([]int, MaxDepth)
	entries := make([]ir.Entry, 0, len(headings))

	for i, h := range headings {
		level := h.HeadingLevel()
		depth := depthOf[level]
		counters[depth]++
		for d := depth + 1; d < len(counters); d++ {
			counters[d] = 0
		}

		entries = append(entries, ir.Entry{
			ID:       h.ID,
			Type:     ir.EntryHeading,
			Content:  strings.TrimSpace(analyzer.PlainText(h.Content)),
			Number:   i + 1,
			Label:    RenderLabel(settings.Formats[depth], counters, settings.Styles[depth]),
			Level:    level,
			Depth:    depth,
			DomOrder: i,
		})
	}
	return entries
}

// compactLevels maps each nominal level present to its rank among the
// levels present.
func compactLevels(headings []*ir.OutlineNode) map[int]int {
	var levels []int
	for _, h := range headings {
		if l := h.HeadingLevel(); !slices.Contains(levels, l) {
			levels = append(levels, l)
		}
	}
	slices.Sort(levels)

	depthOf := make(map[int]int, len(levels))
	for i, l := range levels {
		depthOf[l] = i
	}
	return depthOf
}

// RenderLabel substitutes {1}..{6} in format with counters rendered in
// style. A counter with no value renders as zero.
func RenderLabel(format string, counters []int, style Style) string {
	if format == "" {
		return ""
	}
	return placeholder.ReplaceAllStringFunc(format, func(m string) string {
		idx, _ := strconv.Atoi(m[1 : len(m)-1])
		v := 0
		if idx-1 < len(counters) {
			v = counters[idx-1]
		}
		return Format(v, style)
	})
}
