// Package config implements C15: type-safe environment configuration
// loading with per-type caching, matching the behavior already documented
// in this package's doc comment (itself carried over from the teacher) —
// caarlos0/env/v11 for struct parsing, joho/godotenv for .env loading, one
// cache entry per concrete config type.
package config

import (
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	envLoadOnce sync.Once

	cacheMu sync.RWMutex
	cache   = make(map[reflect.Type]any)
)

// loadDotenv loads a .env file from the working directory exactly once
// per process. A missing file is not an error: environment variables set
// by the platform are the common case in production.
func loadDotenv() {
	envLoadOnce.Do(func() {
		if _, err := os.Stat(".env"); err == nil {
			_ = godotenv.Load()
		}
	})
}

// Load populates cfg from the environment (after a best-effort .env
// load), caching the result keyed by cfg's concrete type. A second Load
// call for the same type returns the cached value without re-parsing the
// environment; pass a *T you already own to have it overwritten in place.
func Load[T any](cfg *T) error {
	loadDotenv()

	t := reflect.TypeOf(*cfg)
	cacheMu.RLock()
	if cached, ok := cache[t]; ok {
		cacheMu.RUnlock()
		*cfg = *(cached.(*T))
		return nil
	}
	cacheMu.RUnlock()

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", t, err)
	}

	cacheMu.Lock()
	stored := *cfg
	cache[t] = &stored
	cacheMu.Unlock()

	return nil
}

// MustLoad is Load but panics on failure; intended for process startup
// where a missing required variable should abort immediately.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}

// Reset clears the cache. Exposed for tests that need to reload
// configuration under different environment variables within one process.
func Reset() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache = make(map[reflect.Type]any)
}
