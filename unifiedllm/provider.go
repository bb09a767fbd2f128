package unifiedllm

import "context"

// ProviderAdapter turns a Request into one completion from a single
// endpoint. Adapters translate tool definitions and tool calls to their
// wire format and report usage in the normalized Usage shape.
type ProviderAdapter interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Closer is implemented by adapters holding connections or clients.
type Closer interface {
	Close() error
}

// Initializer is implemented by adapters that can reject their
// configuration before the first request.
type Initializer interface {
	Initialize() error
}

// InitializeAdapter runs the adapter's Initialize when it has one. A
// failing adapter is closed.
func InitializeAdapter(a ProviderAdapter) error {
	ini, ok := a.(Initializer)
	if !ok {
		return nil
	}
	if err := ini.Initialize(); err != nil {
		if c, ok := a.(Closer); ok {
			_ = c.Close()
		}
		return err
	}
	return nil
}
