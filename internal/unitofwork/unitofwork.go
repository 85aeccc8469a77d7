package unitofwork

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// UnitOfWork is a resource holding pending mutations that must be persisted
// exactly once per logical operation.
//
// The coordinator never creates or destroys a unit of work; it only wraps
// the instances handed to it by the surrounding pipeline.
type UnitOfWork interface {
	// RequiresFlush reports whether there are pending changes.
	// It must not have side effects.
	RequiresFlush() bool

	// Flush persists pending changes. Failures are not retried.
	Flush(ctx context.Context) error
}

// Configurer is implemented by units that declare their own flush
// configuration as plain values.
type Configurer interface {
	FlushConfig() Config
}

// Named is implemented by units that want a stable name in logs and
// journal records. Units without a name are reported by their type.
type Named interface {
	UnitName() string
}

// Config is the flush configuration of a unit of work.
type Config struct {
	// FlushGroup is the co-location key. Empty means the unit belongs to no group.
	FlushGroup string

	// ForceSynchronousFlush pins the unit to the caller's lane.
	ForceSynchronousFlush bool
}

// HasFlushGroup reports whether the config names a flush group.
func (c Config) HasFlushGroup() bool {
	return c.FlushGroup != ""
}

// CanBeFlushedAsynchronously reports whether the unit may be flushed on a
// worker lane.
func (c Config) CanBeFlushedAsynchronously() bool {
	return !c.ForceSynchronousFlush
}

// String renders the config in tag form.
func (c Config) String() string {
	var parts []string
	if c.HasFlushGroup() {
		parts = append(parts, "group="+c.FlushGroup)
	}
	if c.ForceSynchronousFlush {
		parts = append(parts, "sync")
	}
	return strings.Join(parts, ",")
}

// Options is a zero-size marker field type. A struct embedding a field of
// this type declares its flush configuration in the field's `flush` tag.
type Options struct{}

// TagKey is the struct tag key read from Options fields.
const TagKey = "flush"

// ParseTag parses a flush tag value such as "group=orders,sync".
//
// Recognised elements:
//   - group=<key>: sets FlushGroup
//   - sync: sets ForceSynchronousFlush
//   - async: clears ForceSynchronousFlush (the default)
func ParseTag(tag string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(tag) == "" {
		return cfg, nil
	}

	for _, raw := range strings.Split(tag, ",") {
		part := strings.TrimSpace(raw)
		switch {
		case part == "":
			continue
		case part == "sync":
			cfg.ForceSynchronousFlush = true
		case part == "async":
			cfg.ForceSynchronousFlush = false
		case strings.HasPrefix(part, "group="):
			group := strings.TrimSpace(strings.TrimPrefix(part, "group="))
			if group == "" {
				return Config{}, fmt.Errorf("invalid flush tag %q: empty group", tag)
			}
			cfg.FlushGroup = group
		default:
			return Config{}, fmt.Errorf("invalid flush tag %q: unknown element %q", tag, part)
		}
	}

	return cfg, nil
}

// IsNil reports whether u is nil or an interface holding a nil pointer,
// map, slice, func or chan. Methods on such values usually dereference
// them, so they are rejected before any are called.
func IsNil(u UnitOfWork) bool {
	if u == nil {
		return true
	}
	v := reflect.ValueOf(u)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// NameOf returns the display name of a unit of work.
func NameOf(u UnitOfWork) string {
	if IsNil(u) {
		return fmt.Sprintf("%T", u)
	}
	if n, ok := u.(Named); ok {
		if name := n.UnitName(); name != "" {
			return name
		}
	}
	return fmt.Sprintf("%T", u)
}
