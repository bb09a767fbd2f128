package plugins

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DependencyPolicy decides what happens to a module whose import could not
// be resolved. Resolve returns true when the package was installed and the
// module should be loaded again.
type DependencyPolicy interface {
	Resolve(ctx context.Context, module, pkg string) bool
}

// SkipPolicy never installs anything. It is the policy for non-interactive
// sessions.
type SkipPolicy struct {
	Logger *zap.Logger
}

func (p SkipPolicy) Resolve(_ context.Context, module, pkg string) bool {
	if p.Logger != nil {
		p.Logger.Info("skipping capability module with missing dependency",
			zap.String("module", module), zap.String("package", pkg))
	}
	return false
}

// InstallFunc installs the source of pkg where the interpreter can find it.
type InstallFunc func(ctx context.Context, pkg string) error

// PromptPolicy asks on Out whether to install a missing package and reads
// the answer from In. Prompts are serialized across concurrent loads, and a
// package is offered at most once per policy.
type PromptPolicy struct {
	in      *bufio.Reader
	out     io.Writer
	install InstallFunc
	logger  *zap.Logger

	mu      sync.Mutex
	decided map[string]bool
}

// NewPromptPolicy creates a PromptPolicy.
func NewPromptPolicy(in io.Reader, out io.Writer, install InstallFunc, logger *zap.Logger) *PromptPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromptPolicy{
		in:      bufio.NewReader(in),
		out:     out,
		install: install,
		logger:  logger,
		decided: map[string]bool{},
	}
}

func (p *PromptPolicy) Resolve(ctx context.Context, module, pkg string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ok, seen := p.decided[pkg]; seen {
		return ok
	}
	ok := p.ask(ctx, module, pkg)
	p.decided[pkg] = ok
	return ok
}

func (p *PromptPolicy) ask(ctx context.Context, module, pkg string) bool {
	fmt.Fprintf(p.out, "Tool %s needs package %s.\nWould you like to install %s? (y/n) ", module, pkg, pkg)
	answer, err := p.in.ReadString('\n')
	if err != nil && answer == "" {
		fmt.Fprintln(p.out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
	default:
		fmt.Fprintf(p.out, "Skipping %s.\n", module)
		return false
	}

	if p.install == nil {
		return false
	}
	fmt.Fprintf(p.out, "Installing %s...\n", pkg)
	if err := p.install(ctx, pkg); err != nil {
		p.logger.Warn("package install failed", zap.String("package", pkg), zap.Error(err))
		fmt.Fprintf(p.out, "Failed to install %s: %v\n", pkg, err)
		return false
	}
	fmt.Fprintf(p.out, "Installed %s.\n", pkg)
	return true
}
