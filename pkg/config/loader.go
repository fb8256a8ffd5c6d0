package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	dotenvOnce sync.Once

	cacheMu sync.Mutex
	cache   = map[string]any{}
)

// Option adjusts how a single Load call parses the environment.
type Option func(*env.Options)

// WithPrefix requires every variable of the struct to carry the given prefix.
func WithPrefix(prefix string) Option {
	return func(o *env.Options) { o.Prefix = prefix }
}

// WithEnvironment parses from the given map instead of the process environment.
// Results are not cached.
func WithEnvironment(vars map[string]string) Option {
	return func(o *env.Options) { o.Environment = vars }
}

// Load parses environment variables into v according to its `env` tags.
// A .env file in the working directory is read once per process if present.
// Parsed values are cached per type and prefix, so repeated calls are cheap.
//
//	type QuotaConfig struct {
//		ResetPeriod time.Duration `env:"QUOTA_RESET_PERIOD" envDefault:"168h"`
//	}
//
//	var cfg QuotaConfig
//	if err := config.Load(&cfg); err != nil { ... }
func Load[T any](v *T, opts ...Option) error {
	if v == nil {
		return ErrNilPointer
	}
	dotenvOnce.Do(func() { _ = godotenv.Load() })

	var o env.Options
	for _, opt := range opts {
		opt(&o)
	}

	key := cacheKey[T](o.Prefix)
	cacheable := o.Environment == nil

	if cacheable {
		cacheMu.Lock()
		defer cacheMu.Unlock()
		if cached, ok := cache[key]; ok {
			*v = cached.(T)
			return nil
		}
	}

	var parsed T
	if err := env.ParseWithOptions(&parsed, o); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	if cacheable {
		cache[key] = parsed
	}
	*v = parsed
	return nil
}

// MustLoad is Load that panics on failure. Use it for configuration the
// process cannot start without.
func MustLoad[T any](v *T, opts ...Option) {
	if err := Load(v, opts...); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}

func cacheKey[T any](prefix string) string {
	return prefix + "|" + reflect.TypeFor[T]().String()
}
