package agentloop

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/martinemde/coderoute/unifiedllm"
)

// SystemInstructionsPrefix prefixes every system entry on the wire, since
// the endpoint is not sent a dedicated system role.
const SystemInstructionsPrefix = "System instructions: "

// ConversationStore is the ordered, append-only transcript of a session.
type ConversationStore struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewConversationStore returns an empty store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{}
}

// Append adds turns at the end. A multi-turn call is visible to readers
// either completely or not at all.
func (s *ConversationStore) Append(turns ...Turn) {
	if len(turns) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turns...)
}

// All returns a copy of the transcript.
func (s *ConversationStore) All() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of turns.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Clear removes every turn.
func (s *ConversationStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

// Replace swaps the transcript for turns.
func (s *ConversationStore) Replace(turns []Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append([]Turn(nil), turns...)
}

// ToWire projects the transcript into endpoint messages. System turns become
// user entries carrying SystemInstructionsPrefix. When the first resulting
// entry is not a user entry, a synthetic one holding defaultInstructions is
// put in front.
func (s *ConversationStore) ToWire(defaultInstructions string) []unifiedllm.Message {
	turns := s.All()
	msgs := make([]unifiedllm.Message, 0, len(turns)+1)

	for _, t := range turns {
		switch t.Kind {
		case TurnSystem:
			if t.System != nil {
				msgs = append(msgs, unifiedllm.UserMessage(SystemInstructionsPrefix+t.System.Content))
			}
		case TurnUser:
			if t.User != nil {
				msgs = append(msgs, userWireMessage(t.User))
			}
		case TurnAssistant:
			if t.Assistant != nil {
				msgs = append(msgs, assistantWireMessage(t.Assistant))
			}
		case TurnToolResult:
			if r := t.ToolResult; r != nil {
				msgs = append(msgs, unifiedllm.ToolResultMessage(r.CallID, r.Name, r.Content, r.IsError))
			}
		}
	}

	if len(msgs) == 0 || msgs[0].Role != unifiedllm.RoleUser {
		lead := unifiedllm.UserMessage(SystemInstructionsPrefix + defaultInstructions)
		msgs = append([]unifiedllm.Message{lead}, msgs...)
	}
	return msgs
}

func userWireMessage(u *UserTurn) unifiedllm.Message {
	if len(u.Blocks) == 0 {
		return unifiedllm.UserMessage(u.Text)
	}
	msg := unifiedllm.Message{Role: unifiedllm.RoleUser}
	for _, b := range u.Blocks {
		switch b.Type {
		case BlockText:
			msg.Content = append(msg.Content, unifiedllm.TextPart(b.Text))
		case BlockImage:
			if b.Image == nil {
				continue
			}
			url := b.Image.URL
			if b.Image.Data != "" {
				mediaType := b.Image.MediaType
				if mediaType == "" {
					mediaType = "image/png"
				}
				url = "data:" + mediaType + ";base64," + b.Image.Data
			}
			msg.Content = append(msg.Content, unifiedllm.ImageURLPart(url, b.Image.MediaType, "auto"))
		}
	}
	return msg
}

func assistantWireMessage(a *AssistantTurn) unifiedllm.Message {
	msg := unifiedllm.Message{Role: unifiedllm.RoleAssistant}
	if a.Text != "" {
		msg.Content = append(msg.Content, unifiedllm.TextPart(a.Text))
	}
	for _, c := range a.Calls {
		msg.Content = append(msg.Content, unifiedllm.ToolCallPart(c.ID, c.Name, c.Arguments))
	}
	return msg
}

// Export writes the transcript as an indented JSON array of turns.
func (s *ConversationStore) Export(w io.Writer) error {
	turns := s.All()
	data, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

// ExportFile writes the transcript to path, creating parent directories.
func (s *ConversationStore) ExportFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := s.Export(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// DecodeTranscript reads a JSON array of turns.
func DecodeTranscript(r io.Reader) ([]Turn, error) {
	var turns []Turn
	if err := json.NewDecoder(r).Decode(&turns); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	for i, t := range turns {
		if !t.valid() {
			return nil, fmt.Errorf("decode transcript: turn %d has kind %q without a matching payload", i, t.Kind)
		}
	}
	return turns, nil
}

// ReadTranscript loads a transcript written by ExportFile.
func ReadTranscript(path string) ([]Turn, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	return DecodeTranscript(f)
}

func (t Turn) valid() bool {
	switch t.Kind {
	case TurnUser:
		return t.User != nil
	case TurnAssistant:
		return t.Assistant != nil
	case TurnToolResult:
		return t.ToolResult != nil
	case TurnSystem:
		return t.System != nil
	}
	return false
}
