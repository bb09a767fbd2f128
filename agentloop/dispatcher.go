package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Finder resolves a capability by name.
type Finder interface {
	Find(name string) (Capability, bool)
}

// Outcome is the result of one dispatch. Duration is recorded for logging
// and events only and never appears in Text.
type Outcome struct {
	CallID   string
	Name     string
	Args     map[string]any
	Value    any
	Err      *DispatchError
	Duration time.Duration
}

// Failed reports whether the dispatch produced a NotFound or ExecutionError.
func (o Outcome) Failed() bool { return o.Err != nil }

// Text renders the outcome for the transcript. Strings pass through, other
// values are encoded as JSON.
func (o Outcome) Text() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	switch v := o.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	data, err := json.Marshal(o.Value)
	if err != nil {
		return fmt.Sprint(o.Value)
	}
	return string(data)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchLogger sets the logger used for per-call diagnostics.
func WithDispatchLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithDispatchEmitter sets the emitter that receives tool_call events.
func WithDispatchEmitter(e *EventEmitter) DispatcherOption {
	return func(d *Dispatcher) { d.emitter = e }
}

// WithTruncation sets the truncation policy applied to results.
func WithTruncation(p TruncationPolicy) DispatcherOption {
	return func(d *Dispatcher) { d.truncation = p }
}

// WithParallelDispatch enables concurrent execution of a call batch.
func WithParallelDispatch(enabled bool) DispatcherOption {
	return func(d *Dispatcher) { d.parallel = enabled }
}

// Dispatcher resolves capability names and runs them, turning every failure
// into data on the Outcome.
type Dispatcher struct {
	finder     Finder
	logger     *zap.Logger
	emitter    *EventEmitter
	truncation TruncationPolicy
	parallel   bool
}

// NewDispatcher returns a Dispatcher over finder.
func NewDispatcher(finder Finder, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		finder:     finder,
		logger:     zap.NewNop(),
		truncation: DefaultTruncationPolicy(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// InvokeRaw decodes a JSON argument blob and invokes name.
func (d *Dispatcher) InvokeRaw(ctx context.Context, name string, raw json.RawMessage) Outcome {
	args, err := ParseArguments(raw)
	if err != nil {
		if _, ok := d.finder.Find(name); !ok {
			return d.notFound(name)
		}
		return Outcome{Name: name, Err: &DispatchError{Kind: DispatchExecution, Name: name, Message: err.Error(), Cause: err}}
	}
	return d.Invoke(ctx, name, args)
}

// Invoke runs the capability registered under name with args.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args map[string]any) Outcome {
	c, ok := d.finder.Find(name)
	if !ok {
		return d.notFound(name)
	}
	out := Outcome{Name: name, Args: args}

	if err := ValidateArguments(args, c.Schema()); err != nil {
		out.Err = &DispatchError{Kind: DispatchExecution, Name: name, Message: err.Error(), Cause: err}
		d.logger.Debug("capability arguments rejected", zap.String("capability", name), zap.Error(err))
		return out
	}

	start := time.Now()
	value, err := safeExecute(ctx, c, args)
	out.Duration = time.Since(start)

	if err != nil {
		out.Err = &DispatchError{Kind: DispatchExecution, Name: name, Message: err.Error(), Cause: err}
		d.logger.Warn("capability failed",
			zap.String("capability", name),
			zap.Duration("duration", out.Duration),
			zap.Error(err))
		return out
	}
	out.Value = value
	d.logger.Debug("capability completed",
		zap.String("capability", name),
		zap.Duration("duration", out.Duration))
	return out
}

func (d *Dispatcher) notFound(name string) Outcome {
	d.logger.Warn("capability not found", zap.String("capability", name))
	return Outcome{Name: name, Err: &DispatchError{Kind: DispatchNotFound, Name: name}}
}

func safeExecute(ctx context.Context, c Capability, args map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.Execute(ctx, args)
}

// Call dispatches one model-emitted call and emits its start and end events.
func (d *Dispatcher) Call(ctx context.Context, call CapabilityCall) Outcome {
	d.emitter.Emit(EventToolCallStart, map[string]any{
		"tool_name": call.Name,
		"call_id":   call.ID,
		"arguments": string(call.Arguments),
	})
	out := d.InvokeRaw(ctx, call.Name, call.Arguments)
	out.CallID = call.ID

	data := map[string]any{
		"tool_name":   call.Name,
		"call_id":     call.ID,
		"duration_ms": out.Duration.Milliseconds(),
		"is_error":    out.Failed(),
		"output":      out.Text(),
	}
	d.emitter.Emit(EventToolCallEnd, data)
	return out
}

// CallAll dispatches a batch and returns outcomes in call order. It returns
// the context error if ctx is cancelled before the batch finishes.
func (d *Dispatcher) CallAll(ctx context.Context, calls []CapabilityCall) ([]Outcome, error) {
	outcomes := make([]Outcome, len(calls))
	if !d.parallel || len(calls) < 2 {
		for i, call := range calls {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			outcomes[i] = d.Call(ctx, call)
		}
		return outcomes, ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			outcomes[i] = d.Call(gctx, call)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// ResultTurn converts an outcome into a truncated ToolResultTurn.
func (d *Dispatcher) ResultTurn(o Outcome) Turn {
	return NewToolResultTurn(o.CallID, o.Name, d.truncation.Apply(o.Name, o.Text()), o.Failed())
}
