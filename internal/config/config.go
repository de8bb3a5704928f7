package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/annosync/internal/dispatch"
	"github.com/roach88/annosync/internal/ir"
	"github.com/roach88/annosync/internal/numbering"
	"github.com/roach88/annosync/internal/scheduler"
	"github.com/roach88/annosync/internal/state"
)

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", n.Line)
	}
	if err := d.parse(n.Value); err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	return nil
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Config holds every tunable of the engine.
type Config struct {
	Dispatcher DispatcherConfig `json:"dispatcher" yaml:"dispatcher"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Scheduler  SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
	Headings   HeadingConfig    `json:"headings" yaml:"headings"`
	Figures    FigureConfig     `json:"figures" yaml:"figures"`
	Documents  DocumentsConfig  `json:"documents" yaml:"documents"`
}

type DispatcherConfig struct {
	Delay    Duration `json:"delay" yaml:"delay"`
	Capacity int      `json:"capacity" yaml:"capacity"`
	Dedup    bool     `json:"dedup" yaml:"dedup"`
}

type StoreConfig struct {
	CacheCapacity   int      `json:"cacheCapacity" yaml:"cacheCapacity"`
	CacheTTL        Duration `json:"cacheTTL" yaml:"cacheTTL"`
	CleanupInterval Duration `json:"cleanupInterval" yaml:"cleanupInterval"`
	IdleTTL         Duration `json:"idleTTL" yaml:"idleTTL"`
}

type SchedulerConfig struct {
	HeadingDelay Duration `json:"headingDelay" yaml:"headingDelay"`
	FigureDelay  Duration `json:"figureDelay" yaml:"figureDelay"`
}

// HeadingConfig holds one format and one numeral style per depth.
type HeadingConfig struct {
	Formats [numbering.MaxDepth]string `json:"formats" yaml:"formats"`
	Styles  [numbering.MaxDepth]string `json:"styles" yaml:"styles"`
}

type FigureConfig struct {
	ImagePrefix string `json:"imagePrefix" yaml:"imagePrefix"`
	TablePrefix string `json:"tablePrefix" yaml:"tablePrefix"`
}

// Toggle overrides the document defaults for one document. Nil fields
// inherit the default.
type Toggle struct {
	HeadingNumbering *bool `json:"headingNumbering,omitempty" yaml:"headingNumbering,omitempty"`
	CrossReference   *bool `json:"crossReference,omitempty" yaml:"crossReference,omitempty"`
}

type DocumentsConfig struct {
	HeadingNumbering bool              `json:"headingNumbering" yaml:"headingNumbering"`
	CrossReference   bool              `json:"crossReference" yaml:"crossReference"`
	Overrides        map[string]Toggle `json:"overrides" yaml:"overrides"`
}

// Default returns the built-in settings. They match the schema defaults.
func Default() Config {
	c := Config{
		Dispatcher: DispatcherConfig{
			Delay:    Duration(dispatch.DefaultDelay),
			Capacity: dispatch.DefaultCapacity,
			Dedup:    true,
		},
		Store: StoreConfig{
			CacheCapacity:   state.DefaultCacheCapacity,
			CacheTTL:        Duration(state.DefaultCacheTTL),
			CleanupInterval: Duration(state.DefaultCleanupInterval),
			IdleTTL:         Duration(state.DefaultIdleTTL),
		},
		Scheduler: SchedulerConfig{
			HeadingDelay: Duration(scheduler.DefaultDelay),
			FigureDelay:  Duration(scheduler.DefaultDelay),
		},
		Headings: HeadingConfig{Formats: numbering.DefaultFormats},
		Figures: FigureConfig{
			ImagePrefix: numbering.DefaultPrefixes().Image,
			TablePrefix: numbering.DefaultPrefixes().Table,
		},
		Documents: DocumentsConfig{
			HeadingNumbering: true,
			CrossReference:   true,
			Overrides:        map[string]Toggle{},
		},
	}
	for i := range c.Headings.Styles {
		c.Headings.Styles[i] = string(numbering.StyleArabic)
	}
	return c
}

// Clone returns a copy that shares no mutable state with c.
func (c Config) Clone() Config {
	c.Documents.Overrides = maps.Clone(c.Documents.Overrides)
	if c.Documents.Overrides == nil {
		c.Documents.Overrides = map[string]Toggle{}
	}
	return c
}

// HeadingSettings converts the heading section for the numbering package.
// Styles are assumed valid; unknown names render as arabic.
func (c Config) HeadingSettings() numbering.HeadingSettings {
	s := numbering.HeadingSettings{Formats: c.Headings.Formats}
	for i, name := range c.Headings.Styles {
		s.Styles[i] = numbering.Style(name)
	}
	return s
}

// Prefixes returns the figure label prefixes.
func (c Config) Prefixes() numbering.Prefixes {
	return numbering.Prefixes{Image: c.Figures.ImagePrefix, Table: c.Figures.TablePrefix}
}

// HeadingNumbering reports whether heading numbering is enabled for key.
func (c Config) HeadingNumbering(key ir.DocumentKey) bool {
	if t, ok := c.Documents.Overrides[string(key)]; ok && t.HeadingNumbering != nil {
		return *t.HeadingNumbering
	}
	return c.Documents.HeadingNumbering
}

// CrossReference reports whether figure indexing is enabled for key.
func (c Config) CrossReference(key ir.DocumentKey) bool {
	if t, ok := c.Documents.Overrides[string(key)]; ok && t.CrossReference != nil {
		return *t.CrossReference
	}
	return c.Documents.CrossReference
}
