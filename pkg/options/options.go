// Package options carries decoder settings as string-keyed values and
// converts them into typed fields. Values may come from profile files
// (TOML or YAML), decoder spec strings or command line flags.
package options

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/tool"
)

// Options maps option keys to values. Keys match case-insensitively.
type Options map[string]any

func (o Options) lookup(key string) (any, bool) {
	if v, ok := o[key]; ok {
		return v, true
	}
	for k, v := range o {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// Has reports whether key is set.
func (o Options) Has(key string) bool {
	_, ok := o.lookup(key)
	return ok
}

func invalid(key string, v any, want string) error {
	return fmt.Errorf("%w: option %q: %v (%T) is not %s", tool.ErrInvalidConfig, key, v, v, want)
}

// Int returns key as an integer, or def when unset.
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o.lookup(key)
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, invalid(key, v, "an integer")
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, invalid(key, v, "an integer")
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, invalid(key, v, "an integer")
		}
		return i, nil
	}
	return 0, invalid(key, v, "an integer")
}

// Float returns key as a real number, or def when unset.
func (o Options) Float(key string, def float64) (float64, error) {
	v, ok := o.lookup(key)
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, invalid(key, v, "a number")
		}
		return f, nil
	}
	return 0, invalid(key, v, "a number")
}

// Text returns key as a string. Numbers are formatted, so enum values such
// as a stop bit count of 1.5 may be given either way.
func (o Options) Text(key, def string) (string, error) {
	v, ok := o.lookup(key)
	if !ok {
		return def, nil
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s), nil
	case int:
		return strconv.Itoa(s), nil
	case int64:
		return strconv.FormatInt(s, 10), nil
	case uint64:
		return strconv.FormatUint(s, 10), nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	}
	return "", invalid(key, v, "text")
}

// Bool returns key as a boolean, or def when unset.
func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o.lookup(key)
	if !ok {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		p, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, invalid(key, v, "a boolean")
		}
		return p, nil
	}
	return false, invalid(key, v, "a boolean")
}

// Check fails on keys outside allowed.
func (o Options) Check(allowed ...string) error {
	for _, k := range o.Keys() {
		if !slices.ContainsFunc(allowed, func(a string) bool { return strings.EqualFold(a, k) }) {
			return fmt.Errorf("%w: unknown option %q", tool.ErrInvalidConfig, k)
		}
	}
	return nil
}

// Keys returns the keys in sorted order.
func (o Options) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Merge returns a new set holding o overlaid by each of others in turn.
func (o Options) Merge(others ...Options) Options {
	out := make(Options, len(o))
	set := func(src Options) {
		for k, v := range src {
			for existing := range out {
				if strings.EqualFold(existing, k) {
					delete(out, existing)
				}
			}
			out[k] = v
		}
	}
	set(o)
	for _, other := range others {
		set(other)
	}
	return out
}

// FromPairs parses "key=value" strings. Values stay text and are converted
// by the typed getters.
func FromPairs(pairs []string) (Options, error) {
	out := make(Options, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: malformed option %q, want key=value", tool.ErrInvalidConfig, p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}
