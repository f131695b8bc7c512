// Package api
// Author: momentics
//
// Introspection contracts implemented by the control package.

package api

// Debug exposes runtime introspection probes.
type Debug interface {
	// DumpState evaluates every probe and returns the results by name.
	DumpState() map[string]any

	RegisterProbe(name string, fn func() any)
	UnregisterProbe(name string)
}

// Metrics is a named counter and gauge sink.
type Metrics interface {
	Set(key string, value any)
	Add(key string, delta int64)
	Get(key string) (any, bool)
	GetSnapshot() map[string]any
}

// Config is a live key/value configuration source with reload hooks.
type Config interface {
	GetSnapshot() map[string]any
	SetConfig(cfg map[string]any)
	OnReload(fn func())
}
