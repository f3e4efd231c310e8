package options

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/tool"
)

// Profile holds one option set per decoder, keyed by lower-case decoder
// name. In a file each decoder is a table:
//
//	[uart]
//	baudRate = 9600
//	parity = "EVEN"
type Profile map[string]Options

// For returns the options of a decoder; missing sections yield an empty set.
func (p Profile) For(decoder string) Options {
	if o, ok := p[strings.ToLower(decoder)]; ok {
		return o
	}
	return Options{}
}

// LoadProfile reads a TOML (.toml) or YAML (.yaml, .yml) profile. Only the
// named decoder sections are accepted.
func LoadProfile(path string, decoders ...string) (Profile, error) {
	var (
		raw     map[string]map[string]any
		defined func(string) bool
	)

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return nil, fmt.Errorf("%w: profile %s: %w", tool.ErrInvalidConfig, path, err)
		}
		defined = func(section string) bool { return meta.IsDefined(section) }
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("options: read profile: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: profile %s: %w", tool.ErrInvalidConfig, path, err)
		}
		defined = func(section string) bool { _, ok := raw[section]; return ok }
	default:
		return nil, fmt.Errorf("%w: profile %s: unsupported format %q", tool.ErrInvalidConfig, path, ext)
	}

	p := make(Profile, len(raw))
	for section, values := range raw {
		name := strings.ToLower(section)
		if len(decoders) > 0 && !slices.Contains(decoders, name) {
			return nil, fmt.Errorf("%w: profile %s: unknown section [%s]", tool.ErrInvalidConfig, path, section)
		}
		if !defined(section) {
			continue
		}
		o := make(Options, len(values))
		for k, v := range values {
			o[k] = v
		}
		p[name] = o
	}
	return p, nil
}
