package kvdb

import (
	"fmt"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// --------------------------------------------------------------------------
// Params
// --------------------------------------------------------------------------

// Params is a set of configuration parameters.
// Parameters are addressed by dotted names (e.g. "prefix.length") and can be given as
// "key=value" strings, set one by one or loaded from YAML, JSON or TOML.
//
// Thread-safety: Params must not be modified concurrently.
type Params struct {
	v *viper.Viper
}

func NewParams() *Params {
	return &Params{v: viper.New()}
}

// ParseParams builds Params from "key=value" strings
func ParseParams(kv ...string) (*Params, error) {
	p := NewParams()
	if err := p.Parse(kv...); err != nil {
		return nil, err
	}
	return p, nil
}

// Set sets a single parameter
func (p *Params) Set(key, value string) {
	p.v.Set(key, value)
}

// Get returns the raw value of a parameter as a string
func (p *Params) Get(key string) (string, bool) {
	if !p.v.IsSet(key) {
		return "", false
	}
	s, err := cast.ToStringE(p.v.Get(key))
	if err != nil {
		return fmt.Sprint(p.v.Get(key)), true
	}
	return s, true
}

// Parse sets parameters from "key=value" strings
func (p *Params) Parse(kv ...string) error {
	for _, s := range kv {
		key, value, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return NewError(CodeInvalid, "params", "malformed parameter %q, expected key=value", s)
		}
		p.Set(key, strings.TrimSpace(value))
	}
	return nil
}

// FromString merges parameters from a YAML document
func (p *Params) FromString(doc string) error {
	p.v.SetConfigType("yaml")
	if err := p.v.MergeConfig(strings.NewReader(doc)); err != nil {
		return &Error{Code: CodeInvalid, Op: "params", Msg: "failed to parse parameters", Err: err}
	}
	return nil
}

// FromFile merges parameters from a JSON, TOML or YAML file (by extension, YAML otherwise)
func (p *Params) FromFile(path string) error {
	p.v.SetConfigFile(path)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", ".toml", ".yaml", ".yml":
		p.v.SetConfigType(ext[1:])
	default:
		p.v.SetConfigType("yaml")
	}
	if err := p.v.MergeInConfig(); err != nil {
		return &Error{Code: CodeInvalid, Op: "params", Msg: fmt.Sprintf("failed to read %q", path), Err: err}
	}
	return nil
}

// Keys returns all parameter names in sorted order
func (p *Params) Keys() []string {
	keys := p.v.AllKeys()
	sort.Strings(keys)
	return keys
}

// merge copies all parameters of o into p, o wins on conflicts
func (p *Params) merge(o *Params) {
	if o == nil {
		return
	}
	for _, k := range o.v.AllKeys() {
		p.v.Set(k, o.v.Get(k))
	}
}

// --------------------------------------------------------------------------
// Parameter Tables
// --------------------------------------------------------------------------

type paramKind uint8

const (
	kindBool paramKind = iota
	kindUint
	kindString
	kindEnum
)

type paramSpec struct {
	name    string
	kind    paramKind
	def     any
	max     uint64   // kindUint only
	choices []string // kindEnum only
	help    string
}

type paramTable struct {
	scope string
	specs []paramSpec
}

func (t paramTable) lookup(name string) (paramSpec, bool) {
	for _, s := range t.specs {
		if s.name == name {
			return s, true
		}
	}
	return paramSpec{}, false
}

// ignoredParams are accepted in every scope and have no effect
var ignoredParams = []string{"api_version"}

var (
	globalParams = paramTable{scope: "global", specs: []paramSpec{
		{name: "logging.enabled", kind: kindBool, def: true, help: "enable library logging"},
		{name: "logging.level", kind: kindEnum, def: "info", choices: []string{"debug", "info", "warning", "error"}, help: "library log level"},
		{name: "engine", kind: kindEnum, def: "pebble", choices: []string{"pebble", "memory"}, help: "storage engine for new and opened KVDBs"},
		{name: "socket.enabled", kind: kindBool, def: false, help: "serve /metrics over HTTP"},
		{name: "socket.address", kind: kindString, def: "127.0.0.1:9101", help: "listen address of the metrics socket"},
	}}

	kvdbCreateParams = paramTable{scope: "kvdb create", specs: []paramSpec{
		{name: "pebble.cache_size", kind: kindUint, def: uint64(64 << 20), max: 1 << 40, help: "block cache size in bytes"},
		{name: "pebble.memtable_size", kind: kindUint, def: uint64(32 << 20), max: 4 << 30, help: "memtable size in bytes"},
	}}

	kvdbOpenParams = paramTable{scope: "kvdb open", specs: []paramSpec{
		{name: "read_only", kind: kindBool, def: false, help: "reject all mutations"},
		{name: "durability.enabled", kind: kindBool, def: true, help: "sync every commit to media"},
		{name: "pebble.cache_size", kind: kindUint, def: uint64(64 << 20), max: 1 << 40, help: "block cache size in bytes"},
		{name: "pebble.memtable_size", kind: kindUint, def: uint64(32 << 20), max: 4 << 30, help: "memtable size in bytes"},
	}}

	kvsCreateParams = paramTable{scope: "kvs create", specs: []paramSpec{
		{name: "prefix.length", kind: kindUint, def: uint64(0), max: PfxLenMax, help: "key prefix length of a prefix KVS"},
		{name: "suffix.length", kind: kindUint, def: uint64(0), max: SfxLenMax, help: "key suffix length"},
	}}

	kvsOpenParams = paramTable{scope: "kvs open", specs: []paramSpec{
		{name: "transactions.enabled", kind: kindBool, def: true, help: "allow transactional operations"},
	}}
)

// resolved holds the typed values of a parameter table
type resolved struct {
	table  paramTable
	values map[string]any
}

// resolve validates p against the table and fills in defaults.
// A nil p resolves to the defaults.
func (t paramTable) resolve(op string, p *Params) (resolved, error) {
	r := resolved{table: t, values: make(map[string]any, len(t.specs))}
	for _, s := range t.specs {
		r.values[s.name] = s.def
	}
	if p == nil {
		return r, nil
	}

	for _, key := range p.Keys() {
		if slices.Contains(ignoredParams, key) {
			continue
		}
		spec, ok := t.lookup(key)
		if !ok {
			return r, NewError(CodeInvalid, op, "unknown %s parameter %q", t.scope, key)
		}
		raw := p.v.Get(key)
		value, err := spec.convert(raw)
		if err != nil {
			return r, NewError(CodeInvalid, op, "invalid value %v for parameter %q: %v", raw, key, err)
		}
		r.values[key] = value
	}
	return r, nil
}

func (s paramSpec) convert(raw any) (any, error) {
	switch s.kind {
	case kindBool:
		return cast.ToBoolE(raw)
	case kindUint:
		if str, ok := raw.(string); ok && strings.HasPrefix(strings.TrimSpace(str), "-") {
			return nil, fmt.Errorf("must not be negative")
		}
		v, err := cast.ToUint64E(raw)
		if err != nil {
			return nil, err
		}
		if v > s.max {
			return nil, fmt.Errorf("must be at most %d", s.max)
		}
		return v, nil
	case kindEnum:
		v, err := cast.ToStringE(raw)
		if err != nil {
			return nil, err
		}
		v = strings.ToLower(v)
		if !slices.Contains(s.choices, v) {
			return nil, fmt.Errorf("must be one of %s", strings.Join(s.choices, ", "))
		}
		return v, nil
	default:
		return cast.ToStringE(raw)
	}
}

func (r resolved) Bool(name string) bool     { return cast.ToBool(r.values[name]) }
func (r resolved) Uint(name string) uint64   { return cast.ToUint64(r.values[name]) }
func (r resolved) String(name string) string { return cast.ToString(r.values[name]) }

// Format returns the value of a parameter as the string a caller would pass to set it
func (r resolved) Format(op, name string) (string, error) {
	v, ok := r.values[name]
	if !ok {
		return "", NewError(CodeInvalid, op, "unknown %s parameter %q", r.table.scope, name)
	}
	return cast.ToStringE(v)
}

// ParamHelp describes a parameter of one scope
type ParamHelp struct {
	Scope   string
	Name    string
	Default string
	Help    string
}

// ParamsHelp lists all known parameters of every scope
func ParamsHelp() []ParamHelp {
	var out []ParamHelp
	for _, t := range []paramTable{globalParams, kvdbCreateParams, kvdbOpenParams, kvsCreateParams, kvsOpenParams} {
		for _, s := range t.specs {
			out = append(out, ParamHelp{Scope: t.scope, Name: s.name, Default: cast.ToString(s.def), Help: s.help})
		}
	}
	return out
}
