package config

import "sync/atomic"

// Loader holds the current Config behind an atomic pointer so readers never
// observe a partially-applied reload. Per the Design Notes, config is "never
// mutated in place"; Reload always builds a fresh Config and swaps it.
type Loader struct {
	path string
	cur  atomic.Pointer[Config]
}

// NewLoader loads path (see Load) and returns a Loader primed with the
// result.
func NewLoader(path string) (*Loader, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	l := &Loader{path: path}
	l.cur.Store(c)
	return l, nil
}

// Current returns the active Config. Safe for concurrent use; the returned
// value must be treated as read-only.
func (l *Loader) Current() *Config {
	return l.cur.Load()
}

// Reload re-reads the file and environment, then atomically swaps the active
// Config. The previous Config remains valid for anyone still holding it.
func (l *Loader) Reload() (*Config, error) {
	c, err := Load(l.path)
	if err != nil {
		return nil, err
	}
	l.cur.Store(c)
	return c, nil
}
