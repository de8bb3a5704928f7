package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource []byte

// Error codes for configuration failures.
const (
	ErrCodeRead     = "CONFIG_READ"
	ErrCodeDecode   = "CONFIG_DECODE"
	ErrCodeSchema   = "CONFIG_SCHEMA"
	ErrCodeFileType = "CONFIG_FILE_TYPE"
)

// LoadError describes why a configuration file was rejected.
type LoadError struct {
	Code    string
	Path    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsSchemaError reports whether err is a schema violation.
func IsSchemaError(err error) bool {
	var le *LoadError
	return errors.As(err, &le) && le.Code == ErrCodeSchema
}

// Load reads a .yaml, .yml or .cue configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &LoadError{Code: ErrCodeRead, Path: path, Message: err.Error(), Err: err}
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = ParseYAML(data)
	case ".cue":
		cfg, err = ParseCUE(data, path)
	default:
		return Config{}, &LoadError{Code: ErrCodeFileType, Path: path,
			Message: fmt.Sprintf("unsupported config extension %q", filepath.Ext(path))}
	}
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) && le.Path == "" {
			le.Path = path
		}
		return Config{}, err
	}
	return cfg, nil
}

// ParseYAML decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func ParseYAML(data []byte) (Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, &LoadError{Code: ErrCodeDecode, Message: err.Error(), Err: err}
		}
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseCUE evaluates CUE source, unifies it with the schema (which fills
// in defaults) and decodes the result.
func ParseCUE(src []byte, filename string) (Config, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Config{}, &LoadError{Code: ErrCodeDecode, Message: cueMessage(err), Err: err}
	}

	unified, err := unifySchema(ctx, v)
	if err != nil {
		return Config{}, err
	}

	raw, err := unified.MarshalJSON()
	if err != nil {
		return Config{}, &LoadError{Code: ErrCodeSchema, Message: cueMessage(err), Err: err}
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, &LoadError{Code: ErrCodeDecode, Message: err.Error(), Err: err}
	}
	normalize(&cfg)
	return cfg, nil
}

// Validate checks a Config against the schema.
func Validate(cfg Config) error {
	normalize(&cfg)
	raw, err := json.Marshal(cfg)
	if err != nil {
		return &LoadError{Code: ErrCodeDecode, Message: err.Error(), Err: err}
	}
	ctx := cuecontext.New()
	v := ctx.CompileBytes(raw)
	if err := v.Err(); err != nil {
		return &LoadError{Code: ErrCodeDecode, Message: cueMessage(err), Err: err}
	}
	_, err = unifySchema(ctx, v)
	return err
}

func unifySchema(ctx *cue.Context, v cue.Value) (cue.Value, error) {
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile embedded schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return cue.Value{}, &LoadError{Code: ErrCodeSchema, Message: cueMessage(err), Err: err}
	}
	return unified, nil
}

// cueMessage flattens CUE errors, keeping their positions.
func cueMessage(err error) string {
	var parts []string
	for _, e := range cueerrors.Errors(err) {
		msg := e.Error()
		if pos := e.Position(); pos.IsValid() {
			msg = fmt.Sprintf("%s:%d:%d: %s", pos.Filename(), pos.Line(), pos.Column(), msg)
		}
		parts = append(parts, msg)
	}
	if len(parts) == 0 {
		return err.Error()
	}
	return strings.Join(parts, "; ")
}

func normalize(cfg *Config) {
	if cfg.Documents.Overrides == nil {
		cfg.Documents.Overrides = map[string]Toggle{}
	}
}
