package unitofwork

import (
	"log/slog"
	"reflect"
	"sync"
)

var optionsType = reflect.TypeOf(Options{})

// Resolver resolves flush configuration for units of work.
//
// Type-level configuration is resolved at most once per concrete type and
// cached. Resolver is safe for concurrent use.
type Resolver struct {
	mu       sync.RWMutex
	declared map[reflect.Type]Config
	cache    map[reflect.Type]Config
	logger   *slog.Logger
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		declared: make(map[reflect.Type]Config),
		cache:    make(map[reflect.Type]Config),
		logger:   slog.Default(),
	}
}

// defaultResolver backs Resolve for callers that do not build their own.
var defaultResolver = NewResolver()

// Default returns the process-wide resolver.
func Default() *Resolver {
	return defaultResolver
}

// Declare registers the configuration for the concrete type of sample.
// It overrides tag-derived configuration for that type.
func (r *Resolver) Declare(sample UnitOfWork, cfg Config) {
	t := reflect.TypeOf(sample)
	if t == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.declared[t] = cfg
	delete(r.cache, t)
}

// Resolve returns the flush configuration of u. A nil unit, including a
// typed nil pointer, resolves to the zero Config without calling it.
func (r *Resolver) Resolve(u UnitOfWork) Config {
	if IsNil(u) {
		return Config{}
	}
	if c, ok := u.(Configurer); ok {
		return c.FlushConfig()
	}
	return r.forType(reflect.TypeOf(u))
}

func (r *Resolver) forType(t reflect.Type) Config {
	r.mu.RLock()
	cfg, ok := r.cache[t]
	r.mu.RUnlock()
	if ok {
		return cfg
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock; another goroutine may have filled it.
	if cfg, ok := r.cache[t]; ok {
		return cfg
	}

	if declared, ok := r.declared[t]; ok {
		cfg = declared
	} else {
		cfg = r.fromTag(t)
	}
	r.cache[t] = cfg
	return cfg
}

// fromTag reads the flush tag of the first Options field of t (or of the
// struct t points to).
func (r *Resolver) fromTag(t reflect.Type) Config {
	st := t
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() != reflect.Struct {
		return Config{}
	}

	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		if field.Type != optionsType {
			continue
		}
		cfg, err := ParseTag(field.Tag.Get(TagKey))
		if err != nil {
			r.logger.Warn("ignoring invalid flush tag",
				"type", t.String(),
				"field", field.Name,
				"error", err,
			)
			return Config{}
		}
		return cfg
	}

	return Config{}
}

// Cached returns the number of types with memoised configuration.
func (r *Resolver) Cached() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
