package domain

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// placeholderPattern matches {key} where key is an identifier, plus the
// {{ and }} escapes for literal braces. Other brace groups such as "{}" are
// left alone so shell constructs pass through untouched.
var placeholderPattern = regexp.MustCompile(`\{\{|\}\}|\{([A-Za-z_][A-Za-z0-9_.\-]*)\}`)

// Env is the per-invocation configuration context a host's tasks read from.
// Keys are case-insensitive. Values are only added or overwritten during a
// run, never removed.
type Env struct {
	mu       sync.RWMutex
	values   map[string]string
	defaults map[string]string
}

func NewEnv(values map[string]string) *Env {
	e := &Env{
		values:   make(map[string]string, len(values)),
		defaults: make(map[string]string),
	}
	for k, v := range values {
		e.values[normalizeKey(k)] = v
	}
	return e
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Get returns the value for key, falling back to a registered default.
func (e *Env) Get(key string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, ok := e.lookup(normalizeKey(key))
	if !ok {
		return "", &MissingConfigurationError{Key: key}
	}
	return v, nil
}

// GetOr returns the value for key, or fallback when it is not configured.
func (e *Env) GetOr(key, fallback string) string {
	v, err := e.Get(key)
	if err != nil {
		return fallback
	}
	return v
}

func (e *Env) lookup(k string) (string, bool) {
	if v, ok := e.values[k]; ok && v != "" {
		return v, true
	}
	if v, ok := e.defaults[k]; ok && v != "" {
		return v, true
	}
	return "", false
}

func (e *Env) Has(key string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.lookup(normalizeKey(key))
	return ok
}

func (e *Env) Set(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[normalizeKey(key)] = value
}

// SetDefault registers a fallback returned by Get while key has no value.
func (e *Env) SetDefault(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaults[normalizeKey(key)] = value
}

// Require reports the first key that cannot be resolved.
func (e *Env) Require(keys ...string) error {
	for _, k := range keys {
		if _, err := e.Get(k); err != nil {
			return err
		}
	}
	return nil
}

// Format substitutes every {key} placeholder in template. All unresolved
// keys are reported together.
func (e *Env) Format(template string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		switch m {
		case "{{":
			return "{"
		case "}}":
			return "}"
		}
		key := m[1 : len(m)-1]
		v, ok := e.lookup(normalizeKey(key))
		if !ok {
			missing = append(missing, key)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", &TemplateSubstitutionError{Template: template, Missing: missing}
	}
	return out, nil
}

// Snapshot returns the resolved values, defaults included.
func (e *Env) Snapshot() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]string, len(e.values)+len(e.defaults))
	for k, v := range e.defaults {
		out[k] = v
	}
	for k, v := range e.values {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func (e *Env) Keys() []string {
	snap := e.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone gives a host its own copy of the context.
func (e *Env) Clone() *Env {
	e.mu.RLock()
	defer e.mu.RUnlock()

	c := &Env{
		values:   make(map[string]string, len(e.values)),
		defaults: make(map[string]string, len(e.defaults)),
	}
	for k, v := range e.values {
		c.values[k] = v
	}
	for k, v := range e.defaults {
		c.defaults[k] = v
	}
	return c
}
