package unitofwork

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainUnit struct{}

func (plainUnit) RequiresFlush() bool             { return false }
func (plainUnit) Flush(ctx context.Context) error { return nil }

type taggedUnit struct {
	_     Options `flush:"group=orders,sync"`
	dirty bool
}

func (u *taggedUnit) RequiresFlush() bool             { return u.dirty }
func (u *taggedUnit) Flush(ctx context.Context) error { return nil }

type badTagUnit struct {
	_ Options `flush:"group=orders,bogus"`
}

func (*badTagUnit) RequiresFlush() bool             { return false }
func (*badTagUnit) Flush(ctx context.Context) error { return nil }

type selfConfigured struct {
	group string
}

func (*selfConfigured) RequiresFlush() bool             { return false }
func (*selfConfigured) Flush(ctx context.Context) error { return nil }
func (u *selfConfigured) FlushConfig() Config           { return Config{FlushGroup: u.group} }

type namedUnit struct{ plainUnit }

func (namedUnit) UnitName() string { return "ledger" }

func TestParseTag(t *testing.T) {
	tests := []struct {
		tag     string
		want    Config
		wantErr bool
	}{
		{tag: "", want: Config{}},
		{tag: "sync", want: Config{ForceSynchronousFlush: true}},
		{tag: "group=orders", want: Config{FlushGroup: "orders"}},
		{tag: "group=orders, sync", want: Config{FlushGroup: "orders", ForceSynchronousFlush: true}},
		{tag: "sync,async", want: Config{}},
		{tag: "group=", wantErr: true},
		{tag: "weird", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			got, err := ParseTag(tt.tag)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_Flags(t *testing.T) {
	assert.False(t, Config{}.HasFlushGroup())
	assert.True(t, Config{}.CanBeFlushedAsynchronously())
	assert.False(t, Config{ForceSynchronousFlush: true}.CanBeFlushedAsynchronously())
	assert.Equal(t, "group=a,sync", Config{FlushGroup: "a", ForceSynchronousFlush: true}.String())
}

func TestResolver_DefaultsToZeroConfig(t *testing.T) {
	r := NewResolver()
	assert.Equal(t, Config{}, r.Resolve(plainUnit{}))
	assert.Equal(t, Config{}, r.Resolve(nil))
}

func TestResolver_ReadsTagOncePerType(t *testing.T) {
	r := NewResolver()

	cfg := r.Resolve(&taggedUnit{})
	assert.Equal(t, Config{FlushGroup: "orders", ForceSynchronousFlush: true}, cfg)
	assert.Equal(t, 1, r.Cached())

	// A second instance of the same type hits the cache.
	assert.Equal(t, cfg, r.Resolve(&taggedUnit{dirty: true}))
	assert.Equal(t, 1, r.Cached())
}

func TestResolver_InvalidTagFallsBackToZero(t *testing.T) {
	r := NewResolver()
	assert.Equal(t, Config{}, r.Resolve(&badTagUnit{}))
}

func TestResolver_DeclareOverridesTag(t *testing.T) {
	r := NewResolver()
	r.Resolve(&taggedUnit{})

	r.Declare(&taggedUnit{}, Config{FlushGroup: "billing"})
	assert.Equal(t, Config{FlushGroup: "billing"}, r.Resolve(&taggedUnit{}))
}

func TestResolver_ConfigurerIsPerInstance(t *testing.T) {
	r := NewResolver()
	assert.Equal(t, "a", r.Resolve(&selfConfigured{group: "a"}).FlushGroup)
	assert.Equal(t, "b", r.Resolve(&selfConfigured{group: "b"}).FlushGroup)
	assert.Equal(t, 0, r.Cached())
}

func TestResolver_ConcurrentResolve(t *testing.T) {
	r := NewResolver()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "orders", r.Resolve(&taggedUnit{}).FlushGroup)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, r.Cached())
}

func TestNameOf(t *testing.T) {
	assert.Equal(t, "ledger", NameOf(namedUnit{}))
	assert.Equal(t, "*unitofwork.taggedUnit", NameOf(&taggedUnit{}))
}

type funcUnit func(ctx context.Context) error

func (funcUnit) RequiresFlush() bool               { return true }
func (f funcUnit) Flush(ctx context.Context) error { return f(ctx) }

func TestIsNil(t *testing.T) {
	var nilPtr *selfConfigured
	var nilFunc funcUnit

	tests := []struct {
		name string
		unit UnitOfWork
		want bool
	}{
		{"nil interface", nil, true},
		{"typed nil pointer", nilPtr, true},
		{"nil func", nilFunc, true},
		{"pointer", &selfConfigured{}, false},
		{"struct value", plainUnit{}, false},
		{"func", funcUnit(func(context.Context) error { return nil }), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNil(tt.unit))
		})
	}
}

func TestResolver_TypedNilResolvesToZero(t *testing.T) {
	var u *selfConfigured
	r := NewResolver()

	assert.NotPanics(t, func() {
		assert.Equal(t, Config{}, r.Resolve(u))
	})
	assert.Equal(t, 0, r.Cached())
	assert.Equal(t, "*unitofwork.selfConfigured", NameOf(u))
}
