package agentloop

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource reports whatever it is told to, and can change between loads.
type fakeSource struct {
	mu     sync.Mutex
	report LoadReport
	loads  int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Load(context.Context) LoadReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.report
}

func (f *fakeSource) set(r LoadReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.report = r
}

func TestRegistryLoadSortsAndFinds(t *testing.T) {
	r := loadedRegistry(t, staticCapability("zeta", "z", nil), globCapability())

	descs := r.Descriptors()
	require.Len(t, descs, 2)
	assert.Equal(t, "globtool", descs[0].Name)
	assert.Equal(t, "zeta", descs[1].Name)

	c, ok := r.Find("globtool")
	require.True(t, ok)
	assert.Equal(t, "Find files by pattern", c.Description())

	_, ok = r.Find("missing")
	assert.False(t, ok)

	manifest := r.Manifest()
	require.Len(t, manifest, 2)
	assert.Equal(t, "object", manifest[1].Parameters["type"], "nil schema gets an empty object schema")
}

func TestBuiltinSourceIsolatesFailingFactories(t *testing.T) {
	src := NewBuiltinSource(
		Factory{Module: "good", New: func() (Capability, error) { return staticCapability("good", "ok", nil), nil }},
		Factory{Module: "broken", New: func() (Capability, error) { return nil, errors.New("no config") }},
		Factory{Module: "panicky", New: func() (Capability, error) { panic("boom") }},
		Factory{Module: "empty", New: func() (Capability, error) { return nil, nil }},
	)
	r := NewRegistry([]Source{src})
	descs := r.Load(context.Background())

	require.Len(t, descs, 1)
	assert.Equal(t, "good", descs[0].Name)

	failures := r.Failures()
	require.Len(t, failures, 3)
	for _, err := range failures {
		var initErr *InitError
		assert.True(t, errors.As(err, &initErr), "expected InitError, got %T", err)
	}
	assert.Contains(t, failures[1].Error(), "panic: boom")
}

func TestRegistryFirstDefinitionWins(t *testing.T) {
	first := staticCapability("dup", "first", nil)
	second := staticCapability("dup", "second", nil)
	r := loadedRegistry(t, first, second)

	require.Equal(t, 1, r.Len())
	c, _ := r.Find("dup")
	out, err := c.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	failures := r.Failures()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrDuplicateCapability)
}

func TestRegistryRefreshReturnsOnlyAdditions(t *testing.T) {
	src := &fakeSource{report: LoadReport{Capabilities: []Capability{staticCapability("a", "", nil)}}}
	r := NewRegistry([]Source{src})
	r.Load(context.Background())

	src.set(LoadReport{Capabilities: []Capability{
		staticCapability("c", "", nil),
		staticCapability("a", "", nil),
		staticCapability("b", "", nil),
	}})
	assert.Equal(t, []string{"b", "c"}, r.Refresh(context.Background()))
	assert.Empty(t, r.Refresh(context.Background()), "second refresh without changes adds nothing")
	assert.Equal(t, 3, src.loads)

	src.set(LoadReport{Capabilities: []Capability{staticCapability("a", "", nil)}})
	assert.Empty(t, r.Refresh(context.Background()))
	assert.Equal(t, []string{"a"}, r.Names(), "removed capabilities disappear")
}

func TestRegistryEmitsDependencyMissing(t *testing.T) {
	src := &fakeSource{report: LoadReport{
		Capabilities: []Capability{staticCapability("one", "", nil), staticCapability("two", "", nil)},
		Failures: []error{
			&DependencyMissingError{Module: "three.go", Package: "github.com/nonexistent/pkg"},
		},
	}}
	emitter := NewEventEmitter("test", 16)
	r := NewRegistry([]Source{src}, WithRegistryEmitter(emitter))

	descs := r.Load(context.Background())
	require.Len(t, descs, 2)
	emitter.Close()

	var missing []SessionEvent
	for ev := range emitter.Events() {
		if ev.Kind == EventDependencyMissing {
			missing = append(missing, ev)
		}
	}
	require.Len(t, missing, 1)
	assert.Equal(t, "github.com/nonexistent/pkg", missing[0].Data["package"])
	assert.Equal(t, "three.go", missing[0].Data["module"])
}
