package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// capability adapts an interpreted module. Interpreted code cannot be
// interrupted, so a cancelled or timed out call returns immediately and
// leaves the module running until it finishes on its own.
type capability struct {
	module      string
	name        string
	description string
	schema      map[string]any
	execute     func(string) (string, error)
	timeout     time.Duration
}

func (c *capability) Name() string           { return c.name }
func (c *capability) Description() string    { return c.description }
func (c *capability) Schema() map[string]any { return c.schema }

// Module returns the file name the capability was loaded from, without
// extension.
func (c *capability) Module() string { return c.module }

func (c *capability) Execute(ctx context.Context, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		text, err := c.execute(string(raw))
		done <- outcome{text, err}
	}()

	select {
	case o := <-done:
		return o.text, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s timed out after %d seconds", c.name, int(c.timeout.Seconds()))
		}
		return nil, fmt.Errorf("%s: %w", c.name, ctx.Err())
	}
}
