// Package vmlog wraps zerolog with the per-component tagging convention
// used across this module, replacing the bare fmt.Printf/panic logging
// biscuit's kernel uses.
package vmlog

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	base   zerolog.Logger
	once   sync.Once
	initMu sync.Mutex
)

func root() zerolog.Logger {
	once.Do(func() {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
			With().Timestamp().Logger()
	})
	return base
}

// SetLevel adjusts the global minimum log level, e.g. from a CLI flag.
func SetLevel(level zerolog.Level) {
	initMu.Lock()
	defer initMu.Unlock()
	zerolog.SetGlobalLevel(level)
}

// For returns a logger tagged with the given component name, mirroring the
// way lesovsky-pgscv's collectors each get a named sub-logger.
func For(component string) zerolog.Logger {
	return root().With().Str("component", component).Logger()
}
