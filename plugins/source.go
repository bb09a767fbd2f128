// Package plugins loads capability modules written in Go from a directory
// and interprets them with yaegi.
//
// A module is a single Go file in its own package exporting:
//
//	func Name() string
//	func Description() string
//	func Schema() string               // JSON schema of the arguments
//	func Execute(args string) (string, error)
//
// Execute receives the arguments as a JSON object.
package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/martinemde/coderoute/agentloop"
)

// Source is an agentloop.Source over a plugin directory. Every Load starts
// fresh interpreters, so edited modules are picked up on refresh.
type Source struct {
	dir         string
	gopath      string
	policy      DependencyPolicy
	logger      *zap.Logger
	concurrency int
	timeout     time.Duration
}

// Bounds of one interpreted Execute call.
const (
	DefaultTimeout = 2 * time.Minute
	MaxTimeout     = 10 * time.Minute
)

// Option configures a Source.
type Option func(*Source)

// WithGOPATH sets the directory whose src/ tree resolves non-standard
// imports.
func WithGOPATH(dir string) Option {
	return func(s *Source) { s.gopath = dir }
}

// WithPolicy sets how missing dependencies are handled. The default is
// SkipPolicy.
func WithPolicy(p DependencyPolicy) Option {
	return func(s *Source) { s.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// WithConcurrency bounds how many modules are interpreted at once.
func WithConcurrency(n int) Option {
	return func(s *Source) { s.concurrency = n }
}

// WithTimeout bounds each Execute call of the loaded capabilities. Values
// above MaxTimeout are capped.
func WithTimeout(d time.Duration) Option {
	return func(s *Source) { s.timeout = d }
}

// NewSource creates a Source over dir.
func NewSource(dir string, opts ...Option) *Source {
	s := &Source{dir: dir, concurrency: 4, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.policy == nil {
		s.policy = SkipPolicy{Logger: s.logger}
	}
	if s.gopath == "" {
		s.gopath = filepath.Join(dir, ".gopath")
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	s.timeout = min(s.timeout, MaxTimeout)
	return s
}

func (s *Source) Name() string { return "plugins" }

// Dir returns the plugin directory.
func (s *Source) Dir() string { return s.dir }

// Modules lists the module files in dir, sorted by name. A missing
// directory has no modules.
func (s *Source) Modules() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") || strings.HasPrefix(name, ".") {
			continue
		}
		files = append(files, filepath.Join(s.dir, name))
	}
	sort.Strings(files)
	return files, nil
}

type result struct {
	capability agentloop.Capability
	err        error
}

func (s *Source) Load(ctx context.Context) agentloop.LoadReport {
	files, err := s.Modules()
	if err != nil {
		return agentloop.LoadReport{Failures: []error{&agentloop.LoadError{Module: s.dir, Cause: err}}}
	}

	results := make([]result, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.concurrency))
	for i, path := range files {
		g.Go(func() error {
			c, err := s.load(gctx, path)
			results[i] = result{c, err}
			return nil
		})
	}
	_ = g.Wait()

	var report agentloop.LoadReport
	for _, r := range results {
		if r.err != nil {
			report.Failures = append(report.Failures, r.err)
			continue
		}
		report.Capabilities = append(report.Capabilities, r.capability)
	}
	return report
}

func moduleOf(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".go")
}

// load interprets one module. A missing dependency is offered to the policy
// and, once installed, the module is tried exactly one more time.
func (s *Source) load(ctx context.Context, path string) (agentloop.Capability, error) {
	module := moduleOf(path)
	if err := ctx.Err(); err != nil {
		return nil, &agentloop.LoadError{Module: module, Cause: err}
	}
	c, err := s.interpret(path)
	var missing *agentloop.DependencyMissingError
	if !errors.As(err, &missing) {
		return c, err
	}
	if !s.policy.Resolve(ctx, module, missing.Package) {
		return nil, err
	}
	s.logger.Info("retrying capability module", zap.String("module", module), zap.String("package", missing.Package))
	return s.interpret(path)
}

var missingSource = regexp.MustCompile(`unable to find source related to: "([^"]+)"`)

// ParseMissingDependency extracts the package yaegi could not resolve from
// its error message, or "" when the message is about something else.
func ParseMissingDependency(msg string) string {
	if m := missingSource.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	return ""
}

var stdlibPaths = func() map[string]bool {
	paths := make(map[string]bool, len(stdlib.Symbols))
	for key := range stdlib.Symbols {
		if i := strings.LastIndex(key, "/"); i > 0 {
			paths[key[:i]] = true
		}
	}
	return paths
}()

// resolvable reports whether pkg is built into the interpreter or present
// under gopath.
func (s *Source) resolvable(pkg string) bool {
	if stdlibPaths[pkg] {
		return true
	}
	info, err := os.Stat(filepath.Join(s.gopath, "src", filepath.FromSlash(pkg)))
	return err == nil && info.IsDir()
}

func (s *Source) interpret(path string) (c agentloop.Capability, err error) {
	module := moduleOf(path)
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &agentloop.LoadError{Module: module, Cause: err}
	}
	f, err := parser.ParseFile(token.NewFileSet(), path, src, parser.ImportsOnly)
	if err != nil {
		return nil, &agentloop.LoadError{Module: module, Cause: err}
	}
	for _, imp := range f.Imports {
		pkg, _ := strconv.Unquote(imp.Path.Value)
		if !s.resolvable(pkg) {
			return nil, &agentloop.DependencyMissingError{Module: module, Package: pkg}
		}
	}

	i := interp.New(interp.Options{GoPath: s.gopath})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, &agentloop.LoadError{Module: module, Cause: err}
	}
	if err := eval(i, string(src)); err != nil {
		if pkg := ParseMissingDependency(err.Error()); pkg != "" {
			return nil, &agentloop.DependencyMissingError{Module: module, Package: pkg, Cause: err}
		}
		return nil, &agentloop.LoadError{Module: module, Cause: err}
	}

	ex, err := lookupExports(i, f.Name.Name)
	if err != nil {
		return nil, &agentloop.LoadError{Module: module, Cause: err}
	}
	c, err = ex.capability(module, s.timeout)
	if err != nil {
		return nil, &agentloop.InitError{Capability: module, Cause: err}
	}
	s.logger.Debug("capability module interpreted", zap.String("module", module), zap.String("name", c.Name()))
	return c, nil
}

func eval(i *interp.Interpreter, src string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("interpreter panic: %v", r)
		}
	}()
	_, err = i.Eval(src)
	return err
}

type exports struct {
	name        func() string
	description func() string
	schema      func() string
	execute     func(string) (string, error)
}

func lookupExports(i *interp.Interpreter, pkg string) (exports, error) {
	var e exports
	var missing []string
	get := func(symbol string, dst any) {
		v, err := i.Eval(pkg + "." + symbol)
		if err != nil || !v.IsValid() {
			missing = append(missing, symbol)
			return
		}
		ok := false
		switch d := dst.(type) {
		case *func() string:
			*d, ok = v.Interface().(func() string)
		case *func(string) (string, error):
			*d, ok = v.Interface().(func(string) (string, error))
		}
		if !ok {
			missing = append(missing, symbol+" (wrong signature)")
		}
	}
	get("Name", &e.name)
	get("Description", &e.description)
	get("Schema", &e.schema)
	get("Execute", &e.execute)
	if len(missing) > 0 {
		return e, fmt.Errorf("missing required exports: %s", strings.Join(missing, ", "))
	}
	return e, nil
}

// capability reads the static exports. A panic in them or a Schema that is
// not a JSON object is an error.
func (e exports) capability(module string, timeout time.Duration) (c agentloop.Capability, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic reading exports: %v", r)
		}
	}()
	name := strings.TrimSpace(e.name())
	if name == "" {
		return nil, errors.New("empty capability name")
	}
	var schema map[string]any
	if err := json.Unmarshal([]byte(e.schema()), &schema); err != nil {
		return nil, fmt.Errorf("schema is not a JSON object: %w", err)
	}
	if schema == nil {
		return nil, errors.New("schema is not a JSON object")
	}
	return &capability{
		module:      module,
		name:        name,
		description: e.description(),
		schema:      schema,
		execute:     e.execute,
		timeout:     timeout,
	}, nil
}
