// Package config loads and validates causality configuration.
//
// Files may be CUE, TOML or YAML. Whatever the format, the document is
// encoded into CUE and unified with the embedded #Config schema, which
// supplies defaults and rejects unknown keys and out-of-range values.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
)

//go:embed schema.cue
var schemaCUE string

// Machine bounds one execution.
type Machine struct {
	Gas          uint64 `json:"gas"`
	MaxCallDepth int    `json:"max_call_depth"`
}

// Limits converts the section to machine limits.
func (m Machine) Limits() machine.Limits {
	return machine.Limits{Gas: m.Gas, MaxCallDepth: m.MaxCallDepth}
}

type Executor struct {
	VerifyLaws bool `json:"verify_laws"`
}

type Cache struct {
	Capacity int `json:"capacity"`
}

type Store struct {
	Backend     string `json:"backend"`
	Path        string `json:"path"`
	ReadCacheMB int    `json:"read_cache_mb"`
}

type ZK struct {
	Backend   string `json:"backend"`
	Seed      string `json:"seed"`
	MaxInputs int    `json:"max_inputs"`
}

type Domain struct {
	ID      string `json:"id"`
	Timeout string `json:"timeout"`
	Retries int    `json:"retries"`
}

// TimeoutDuration parses Timeout. The schema guarantees the format.
func (d Domain) TimeoutDuration() time.Duration {
	t, err := time.ParseDuration(d.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return t
}

type Log struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Config is the full configuration.
type Config struct {
	Machine  Machine  `json:"machine"`
	Executor Executor `json:"executor"`
	Cache    Cache    `json:"cache"`
	Store    Store    `json:"store"`
	ZK       ZK       `json:"zk"`
	Domain   Domain   `json:"domain"`
	Log      Log      `json:"log"`
}

func (c *Config) check() error {
	if c.Store.Backend != "memory" && c.Store.Path == "" {
		return &Error{Message: fmt.Sprintf("store.path is required for the %s backend", c.Store.Backend)}
	}
	return nil
}

// Error is a configuration failure. Pos is "file:line:col" when CUE
// reported a position.
type Error struct {
	Path    string
	Pos     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	where := e.Path
	if e.Pos != "" {
		where = e.Pos
	}
	if where == "" {
		return "config: " + e.Message
	}
	return fmt.Sprintf("config %s: %s", where, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Category implements ir.Categorized.
func (e *Error) Category() ir.Category { return ir.CategoryValidation }

func schema(ctx *cue.Context) (cue.Value, error) {
	v := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if v.Err() != nil {
		return cue.Value{}, v.Err()
	}
	return v.LookupPath(cue.ParsePath("#Config")), nil
}

// Default returns the schema defaults.
func Default() *Config {
	cfg, err := decode(cuecontext.New(), "", func(ctx *cue.Context) (cue.Value, error) {
		return ctx.CompileString("{}"), nil
	})
	if err != nil {
		panic(fmt.Sprintf("config schema defaults: %v", err))
	}
	return cfg
}

// Load reads path, choosing the format by extension: .cue, .toml, .yaml
// or .yml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Message: "read failed", Cause: err}
	}
	return Parse(path, data)
}

// Parse decodes data as the format named by path's extension.
func Parse(path string, data []byte) (*Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	return decode(cuecontext.New(), path, func(ctx *cue.Context) (cue.Value, error) {
		switch ext {
		case ".cue":
			return ctx.CompileBytes(data, cue.Filename(path)), nil
		case ".toml":
			var doc map[string]any
			if _, err := toml.Decode(string(data), &doc); err != nil {
				return cue.Value{}, err
			}
			return ctx.Encode(doc), nil
		case ".yaml", ".yml":
			var doc map[string]any
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return cue.Value{}, err
			}
			if doc == nil {
				doc = map[string]any{}
			}
			return ctx.Encode(doc), nil
		}
		return cue.Value{}, fmt.Errorf("unsupported extension %q", ext)
	})
}

func decode(ctx *cue.Context, path string, build func(*cue.Context) (cue.Value, error)) (*Config, error) {
	s, err := schema(ctx)
	if err != nil {
		return nil, &Error{Path: "schema.cue", Message: "invalid schema", Cause: err}
	}
	doc, err := build(ctx)
	if err != nil {
		return nil, &Error{Path: path, Message: "parse failed", Cause: err}
	}
	if doc.Err() != nil {
		return nil, cueError(path, doc.Err())
	}
	v := s.Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(path, err)
	}
	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, cueError(path, err)
	}
	if err := cfg.check(); err != nil {
		e := err.(*Error)
		e.Path = path
		return nil, e
	}
	return &cfg, nil
}

// cueError reports the first CUE error with its position.
func cueError(path string, err error) *Error {
	e := &Error{Path: path, Message: err.Error(), Cause: err}
	var ce cueerrors.Error
	if errors.As(err, &ce) {
		e.Message = ce.Error()
		if pos := ce.Position(); pos.IsValid() {
			e.Pos = fmt.Sprintf("%s:%d:%d", pos.Filename(), pos.Line(), pos.Column())
		}
	}
	return e
}
