package agentloop

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/martinemde/coderoute/unifiedllm"
)

// LoadReport is what one Source produced during a load pass. Failures hold
// *DependencyMissingError, *LoadError or *InitError values.
type LoadReport struct {
	Capabilities []Capability
	Failures     []error
}

// Source enumerates capability modules.
type Source interface {
	Name() string
	Load(ctx context.Context) LoadReport
}

// Factory is one entry of a compiled registration table.
type Factory struct {
	Module string
	New    func() (Capability, error)
}

// BuiltinSource instantiates capabilities from a registration table.
type BuiltinSource struct {
	factories []Factory
}

// NewBuiltinSource returns a Source over the given factories.
func NewBuiltinSource(factories ...Factory) *BuiltinSource {
	return &BuiltinSource{factories: factories}
}

// Name implements Source.
func (b *BuiltinSource) Name() string { return "builtin" }

// Load implements Source. A factory that fails or panics is reported as an
// InitError under its module name.
func (b *BuiltinSource) Load(ctx context.Context) LoadReport {
	var report LoadReport
	for _, f := range b.factories {
		if ctx.Err() != nil {
			report.Failures = append(report.Failures, &LoadError{Module: f.Module, Cause: ctx.Err()})
			continue
		}
		c, err := instantiate(f)
		if err != nil {
			report.Failures = append(report.Failures, &InitError{Capability: f.Module, Cause: err})
			continue
		}
		report.Capabilities = append(report.Capabilities, c)
	}
	return report
}

func instantiate(f Factory) (c Capability, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if f.New == nil {
		return nil, errors.New("nil factory")
	}
	c, err = f.New()
	if err == nil && c == nil {
		err = errors.New("factory returned no capability")
	}
	return c, err
}

type snapshot struct {
	byName   map[string]Capability
	names    []string
	failures []error
}

func emptySnapshot() *snapshot {
	return &snapshot{byName: map[string]Capability{}}
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used for load diagnostics.
func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithRegistryEmitter sets the emitter that receives load events.
func WithRegistryEmitter(e *EventEmitter) RegistryOption {
	return func(r *Registry) { r.emitter = e }
}

// Registry holds the current set of capabilities. Readers see either the
// previous or the rebuilt set, never a partial one.
type Registry struct {
	sources []Source
	current atomic.Pointer[snapshot]
	rebuild sync.Mutex
	logger  *zap.Logger
	emitter *EventEmitter
}

// NewRegistry creates an empty Registry over sources. Call Load to populate it.
func NewRegistry(sources []Source, opts ...RegistryOption) *Registry {
	r := &Registry{sources: sources, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(emptySnapshot())
	return r
}

// SetEmitter replaces the event emitter.
func (r *Registry) SetEmitter(e *EventEmitter) {
	r.rebuild.Lock()
	defer r.rebuild.Unlock()
	r.emitter = e
}

// Load builds the capability set from every source and returns the
// descriptors of everything that loaded.
func (r *Registry) Load(ctx context.Context) []Descriptor {
	r.rebuild.Lock()
	defer r.rebuild.Unlock()
	r.current.Store(r.build(ctx))
	return r.Descriptors()
}

// Refresh rebuilds the capability set and returns the sorted names that
// were not present before.
func (r *Registry) Refresh(ctx context.Context) []string {
	r.rebuild.Lock()
	defer r.rebuild.Unlock()

	prev := r.current.Load()
	next := r.build(ctx)
	r.current.Store(next)

	var added []string
	for _, name := range next.names {
		if _, ok := prev.byName[name]; !ok {
			added = append(added, name)
		}
	}
	if len(added) > 0 {
		r.logger.Info("capabilities added", zap.Strings("names", added))
	}
	return added
}

func (r *Registry) build(ctx context.Context) *snapshot {
	snap := emptySnapshot()
	for _, src := range r.sources {
		report := src.Load(ctx)
		for _, c := range report.Capabilities {
			name := c.Name()
			if _, dup := snap.byName[name]; dup {
				err := &InitError{Capability: name, Cause: fmt.Errorf("%w (source %s)", ErrDuplicateCapability, src.Name())}
				snap.failures = append(snap.failures, err)
				r.reportFailure(src.Name(), err)
				continue
			}
			snap.byName[name] = c
			snap.names = append(snap.names, name)
			r.emitter.Emit(EventCapabilityLoaded, map[string]any{"name": name, "source": src.Name()})
		}
		for _, err := range report.Failures {
			snap.failures = append(snap.failures, err)
			r.reportFailure(src.Name(), err)
		}
	}
	sort.Strings(snap.names)
	r.logger.Debug("capabilities loaded",
		zap.Int("count", len(snap.names)),
		zap.Int("failures", len(snap.failures)))
	return snap
}

func (r *Registry) reportFailure(source string, err error) {
	var missing *DependencyMissingError
	if errors.As(err, &missing) {
		r.logger.Warn("capability dependency missing",
			zap.String("source", source),
			zap.String("module", missing.Module),
			zap.String("package", missing.Package))
		r.emitter.Emit(EventDependencyMissing, map[string]any{
			"module":  missing.Module,
			"package": missing.Package,
		})
		return
	}
	r.logger.Warn("capability load failed", zap.String("source", source), zap.Error(err))
	r.emitter.Emit(EventCapabilityLoadFailed, map[string]any{"source": source, "error": err.Error()})
}

// Find returns the capability registered under name.
func (r *Registry) Find(name string) (Capability, bool) {
	c, ok := r.current.Load().byName[name]
	return c, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.current.Load().names...)
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	return len(r.current.Load().names)
}

// Descriptors returns the descriptors of every registered capability,
// sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	snap := r.current.Load()
	out := make([]Descriptor, 0, len(snap.names))
	for _, name := range snap.names {
		out = append(out, Describe(snap.byName[name]))
	}
	return out
}

// Manifest returns the tool definitions advertised to the endpoint.
func (r *Registry) Manifest() []unifiedllm.ToolDefinition {
	descs := r.Descriptors()
	defs := make([]unifiedllm.ToolDefinition, len(descs))
	for i, d := range descs {
		defs[i] = d.ToolDefinition()
	}
	return defs
}

// Failures returns the errors recorded by the latest load.
func (r *Registry) Failures() []error {
	return append([]error(nil), r.current.Load().failures...)
}
