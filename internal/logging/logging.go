// Package logging configures the zerolog loggers used by the command line
// tools. The decoding packages never log on their own; they receive a
// logger through tool.Context.
package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Environment variables overriding a profile.
const (
	EnvLevel     = "LA_LOG_LEVEL"
	EnvNoColor   = "LA_LOG_NOCOLOR"
	EnvTimestamp = "LA_LOG_TIMESTAMP"
)

// Profile holds the logger settings.
type Profile struct {
	Level     zerolog.Level
	NoColor   bool
	Timestamp bool
	Out       io.Writer
}

// RuntimeProfile logs info and above to stderr.
func RuntimeProfile() Profile {
	return Profile{Level: zerolog.InfoLevel, Out: os.Stderr}
}

// TestProfile discards everything below warnings, without colour.
func TestProfile() Profile {
	return Profile{Level: zerolog.WarnLevel, NoColor: true, Out: io.Discard}
}

// ParseLevel accepts trace, debug, info, warn, error or off.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "disabled", "none":
		return zerolog.Disabled, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.NoLevel, fmt.Errorf("logging: unknown level %q", s)
	}
	return l, nil
}

// WithEnv applies the LA_LOG_* overrides found through lookup.
func (p Profile) WithEnv(lookup func(string) (string, bool)) (Profile, error) {
	if v, ok := lookup(EnvLevel); ok && v != "" {
		l, err := ParseLevel(v)
		if err != nil {
			return p, err
		}
		p.Level = l
	}
	for key, dst := range map[string]*bool{EnvNoColor: &p.NoColor, EnvTimestamp: &p.Timestamp} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return p, fmt.Errorf("logging: %s=%q: %w", key, v, err)
		}
		*dst = b
	}
	return p, nil
}

// Build returns a console logger for p.
func Build(p Profile) zerolog.Logger {
	out := p.Out
	if out == nil {
		out = os.Stderr
	}
	w := zerolog.ConsoleWriter{Out: out, NoColor: p.NoColor, TimeFormat: time.RFC3339}
	if !p.Timestamp {
		w.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	ctx := zerolog.New(w).Level(p.Level).With()
	if p.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

var (
	once sync.Once
	mu   sync.RWMutex
	root = zerolog.Nop()
)

// Configure installs the root logger from p and the environment. Only the
// first call has an effect. A malformed environment override is reported
// on the new logger and otherwise ignored.
func Configure(p Profile) {
	once.Do(func() {
		env, err := p.WithEnv(os.LookupEnv)
		if err == nil {
			p = env
		}
		l := Build(p)
		if err != nil {
			l.Warn().Err(err).Msg("ignoring log environment")
		}
		mu.Lock()
		root = l
		mu.Unlock()
	})
}

// SetLevel changes the level of the root logger.
func SetLevel(l zerolog.Level) {
	mu.Lock()
	root = root.Level(l)
	mu.Unlock()
}

// New returns a logger tagged with component. It configures the runtime
// profile if Configure was never called.
func New(component string) zerolog.Logger {
	Configure(RuntimeProfile())
	mu.RLock()
	defer mu.RUnlock()
	return root.With().Str("component", component).Logger()
}
