package agentloop

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/martinemde/coderoute/unifiedllm"
)

// SessionState represents the current lifecycle state of a session.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateProcessing SessionState = "processing"
	StateClosed     SessionState = "closed"
)

// SessionConfig holds the tunables of a session.
type SessionConfig struct {
	Model                 string
	MaxTokens             int
	MaxConversationTokens int
	Temperature           float64
	MaxRoundTrips         int
	ParallelDispatch      bool
	LoopDetection         bool
	LoopDetectionWindow   int
	// SeedSystemPrompt puts the full system prompt in front of the first
	// user input of a conversation.
	SeedSystemPrompt bool
	UserInstructions string
	WorkingDirectory string
	RequestTimeout   time.Duration
	EventBuffer      int
	Truncation       *TruncationPolicy
}

// DefaultSessionConfig returns the default configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:                 unifiedllm.DefaultModelID,
		MaxTokens:             20000,
		MaxConversationTokens: 20000000,
		Temperature:           0.2,
		MaxRoundTrips:         200,
		LoopDetection:         true,
		LoopDetectionWindow:   10,
		SeedSystemPrompt:      true,
		RequestTimeout:        5 * time.Minute,
		EventBuffer:           256,
	}
}

// Input is one user submission. Blocks carries multi-part content; when it
// is set Text is ignored and command parsing is skipped.
type Input struct {
	Text   string
	Blocks []ContentBlock
}

// TextInput wraps plain text.
func TextInput(text string) Input { return Input{Text: text} }

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithProfiles sets the table of selectable models.
func WithProfiles(ps *ProfileSet) SessionOption {
	return func(s *Session) { s.profiles = ps }
}

// WithSources sets the capability sources of the session registry.
func WithSources(sources ...Source) SessionOption {
	return func(s *Session) { s.sources = sources }
}

// WithSessionLogger sets the logger shared by the session components.
func WithSessionLogger(l *zap.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithCompleter replaces the endpoint client. Provider adapters are only
// built when the completer is a *unifiedllm.Client.
func WithCompleter(c Completer) SessionOption {
	return func(s *Session) { s.completer = c }
}

// WithProviderFactory replaces the adapter factory.
func WithProviderFactory(f ProviderFactory) SessionOption {
	return func(s *Session) { s.factory = f }
}

// Session is the user-facing entry point. It owns the transcript, the
// budget, the capability registry and the current model.
type Session struct {
	id        string
	config    SessionConfig
	profiles  *ProfileSet
	sources   []Source
	registry  *Registry
	store     *ConversationStore
	budget    *TokenBudget
	emitter   *EventEmitter
	logger    *zap.Logger
	completer Completer
	client    *unifiedllm.Client
	ownClient bool
	factory   ProviderFactory

	dispatcher *Dispatcher
	loop       *CompletionLoop

	mu      sync.Mutex
	sendMu  sync.Mutex
	current ModelProfile
	state   SessionState
}

// NewSession builds a session and loads its capabilities. It fails with a
// *unifiedllm.ConfigurationError when the configured model is unknown or
// lacks its credential.
func NewSession(ctx context.Context, config SessionConfig, opts ...SessionOption) (*Session, error) {
	id := uuid.New().String()
	s := &Session{
		id:     id,
		config: config,
		store:  NewConversationStore(),
		logger: zap.NewNop(),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session", id))
	s.emitter = NewEventEmitter(id, config.EventBuffer)
	if s.profiles == nil {
		s.profiles = catalogProfiles()
	}
	if s.config.Model == "" {
		s.config.Model = unifiedllm.DefaultModelID
	}

	profile, ok := s.profiles.Lookup(s.config.Model)
	if !ok {
		return nil, unifiedllm.NewConfigurationError("unknown model '%s'", s.config.Model)
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	if s.completer == nil {
		retry := unifiedllm.DefaultRetryPolicy()
		retry.OnRetry = func(err error, attempt int, delay time.Duration) {
			s.logger.Warn("retrying completion",
				zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		}
		s.client = unifiedllm.NewClient(unifiedllm.WithMiddleware(
			unifiedllm.LoggingMiddleware(s.logger),
			unifiedllm.RetryMiddleware(retry),
		))
		s.completer = s.client
		s.ownClient = true
	} else if c, ok := s.completer.(*unifiedllm.Client); ok {
		s.client = c
	}
	if s.factory == nil {
		s.factory = DefaultProviderFactory(s.logger, s.config.RequestTimeout)
	}
	if err := s.ensureProvider(ctx, profile); err != nil {
		return nil, err
	}
	s.current = profile

	s.registry = NewRegistry(s.sources,
		WithRegistryLogger(s.logger.Named("registry")),
		WithRegistryEmitter(s.emitter))
	s.registry.Load(ctx)

	truncation := DefaultTruncationPolicy()
	if config.Truncation != nil {
		truncation = *config.Truncation
	}
	s.budget = NewTokenBudget(config.MaxConversationTokens)
	s.dispatcher = NewDispatcher(s.registry,
		WithDispatchLogger(s.logger.Named("dispatch")),
		WithDispatchEmitter(s.emitter),
		WithTruncation(truncation),
		WithParallelDispatch(config.ParallelDispatch))
	s.loop = NewCompletionLoop(s.completer, s.store, s.registry, s.dispatcher, s.budget, LoopConfig{
		MaxTokens:           config.MaxTokens,
		Temperature:         config.Temperature,
		MaxRoundTrips:       config.MaxRoundTrips,
		LoopDetection:       config.LoopDetection,
		LoopDetectionWindow: config.LoopDetectionWindow,
	}, s.logger.Named("loop"), s.emitter)

	s.emitter.Emit(EventSessionStart, map[string]any{"model": profile.ID, "tools": s.registry.Len()})
	s.logger.Info("session started",
		zap.String("model", profile.ID),
		zap.Int("tools", s.registry.Len()))
	return s, nil
}

func catalogProfiles() *ProfileSet {
	ps := NewProfileSet()
	for _, m := range unifiedllm.Models {
		ps.Put(ProfileFromModelInfo(m, "", ""))
	}
	return ps
}

func (s *Session) ensureProvider(ctx context.Context, p ModelProfile) error {
	if s.client == nil || s.client.HasProvider(p.ID) {
		return nil
	}
	adapter, err := s.factory(ctx, p)
	if err != nil {
		return fmt.Errorf("build provider for %s: %w", p.ID, err)
	}
	if err := unifiedllm.InitializeAdapter(adapter); err != nil {
		return fmt.Errorf("build provider for %s: %w", p.ID, err)
	}
	s.client.RegisterProvider(p.ID, adapter)
	return nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the selected model profile.
func (s *Session) Current() ModelProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan SessionEvent { return s.emitter.Events() }

// Budget returns the token budget. Callers must treat it as read-only.
func (s *Session) Budget() *TokenBudget { return s.budget }

// Registry returns the capability registry.
func (s *Session) Registry() *Registry { return s.registry }

// Transcript returns a copy of the conversation.
func (s *Session) Transcript() []Turn { return s.store.All() }

// Send handles one user submission: a command is executed directly,
// anything else is appended to the transcript and completed. The error is
// non-nil when the session is closed or ctx was cancelled; a cancelled send
// leaves the transcript as it was before the call.
func (s *Session) Send(ctx context.Context, in Input) (string, error) {
	if s.State() == StateClosed {
		return "", ErrSessionClosed
	}
	if len(in.Blocks) == 0 {
		if cmd, ok := ParseCommand(in.Text); ok {
			s.emitter.Emit(EventCommand, map[string]any{"command": string(cmd.Kind), "arg": cmd.Arg})
			return s.execute(ctx, cmd), nil
		}
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.setState(StateProcessing)
	defer s.setState(StateIdle)

	if s.store.Len() == 0 && s.config.SeedSystemPrompt {
		s.store.Append(NewSystemTurn(BuildSystemPrompt(ctx, PromptContext{
			WorkingDirectory: s.config.WorkingDirectory,
			Model:            s.Current().ID,
			Tools:            s.registry.Names(),
			UserInstructions: s.config.UserInstructions,
		})))
	}
	if len(in.Blocks) > 0 {
		s.store.Append(NewUserBlocksTurn(in.Blocks))
	} else {
		s.store.Append(NewUserTurn(in.Text))
	}
	s.emitter.Emit(EventUserInput, map[string]any{"content": in.Text, "blocks": len(in.Blocks)})

	text, err := s.loop.Run(ctx, s.Current())
	if err != nil {
		s.logger.Info("send cancelled", zap.Int("turns", s.store.Len()), zap.Error(err))
		return "", err
	}
	return text, nil
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = st
	}
}

func (s *Session) execute(ctx context.Context, cmd Command) string {
	if cmd.Usage != "" {
		return cmd.Usage
	}
	switch cmd.Kind {
	case CmdReset:
		s.Reset()
		return "Conversation reset!"
	case CmdRefresh:
		added := s.RefreshCapabilities(ctx)
		if len(added) == 0 {
			return "Tools refreshed successfully!"
		}
		return "Tools refreshed successfully!\nNew tools: " + strings.Join(added, ", ")
	case CmdModels:
		return s.ListModels()
	case CmdModel:
		return s.SelectModel(ctx, cmd.Arg)
	case CmdQuit:
		s.Close()
		return "Goodbye!"
	case CmdExport:
		if err := s.ExportTranscript(cmd.Arg); err != nil {
			return "Error exporting conversation: " + err.Error()
		}
		return "Conversation exported to " + cmd.Arg
	case CmdHelp:
		return HelpText
	case CmdTools:
		return s.ToolsText()
	}
	return ""
}

// Reset clears the transcript and the token budget.
func (s *Session) Reset() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.store.Clear()
	s.budget.Reset()
	s.logger.Info("conversation reset")
}

// RefreshCapabilities reloads every capability source and returns the
// names that were added.
func (s *Session) RefreshCapabilities(ctx context.Context) []string {
	return s.registry.Refresh(ctx)
}

// SelectModel switches the current model. On any failure the current
// model is kept and the returned text describes the problem.
func (s *Session) SelectModel(ctx context.Context, id string) string {
	p, ok := s.profiles.Lookup(id)
	if !ok {
		return fmt.Sprintf("Model '%s' not available. Use 'models' command to see available models.", id)
	}
	if err := p.Validate(); err != nil {
		return "Error: " + err.Error()
	}
	if err := s.ensureProvider(ctx, p); err != nil {
		return "Error: " + err.Error()
	}

	s.mu.Lock()
	old := s.current
	s.current = p
	s.mu.Unlock()

	s.emitter.Emit(EventModelChanged, map[string]any{"from": old.ID, "to": p.ID})
	s.logger.Info("model changed", zap.String("from", old.ID), zap.String("to", p.ID))
	return fmt.Sprintf("Switched from %s to %s", old.Display(), p.Display())
}

// ListModels renders the model table with the current model marked.
func (s *Session) ListModels() string {
	cur := s.Current()
	return s.profiles.Render(cur.ID) + "\nCurrent model: " + cur.Display()
}

// Profiles returns the selectable models.
func (s *Session) Profiles() []ModelProfile { return s.profiles.All() }

// Tools returns the descriptors of the loaded capabilities, sorted by name.
func (s *Session) Tools() []Descriptor { return s.registry.Descriptors() }

// ToolsText renders the loaded capabilities one per line.
func (s *Session) ToolsText() string {
	descs := s.Tools()
	if len(descs) == 0 {
		return "No tools loaded."
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	var sb strings.Builder
	fmt.Fprintf(&sb, "Loaded tools (%d):", len(descs))
	for _, d := range descs {
		summary, _, _ := strings.Cut(strings.TrimSpace(d.Description), "\n")
		fmt.Fprintf(&sb, "\n  %s - %s", d.Name, summary)
	}
	return sb.String()
}

// ExportTranscript writes the conversation to path as a JSON array.
func (s *Session) ExportTranscript(path string) error {
	return s.store.ExportFile(path)
}

// Restore replaces the conversation with turns, e.g. from ReadTranscript.
func (s *Session) Restore(turns []Turn) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.store.Replace(turns)
}

// Close ends the session. Further sends fail with ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.emitter.Emit(EventSessionEnd, map[string]any{"tokens_used": s.budget.Used()})
	s.emitter.Close()
	if s.ownClient {
		if err := s.client.Close(); err != nil {
			s.logger.Warn("close client", zap.Error(err))
		}
	}
	s.logger.Info("session closed", zap.Int("dropped_events", s.emitter.Dropped()))
}
