package agentloop

import (
	"encoding/json"
	"time"
)

// TurnKind discriminates between turn types.
type TurnKind string

const (
	TurnUser       TurnKind = "user"
	TurnAssistant  TurnKind = "assistant"
	TurnToolResult TurnKind = "tool_result"
	TurnSystem     TurnKind = "system"
)

// Turn is a single entry in the conversation transcript. Exactly one of the
// payload pointers matching Kind is set.
type Turn struct {
	Kind       TurnKind        `json:"kind"`
	Timestamp  time.Time       `json:"timestamp"`
	User       *UserTurn       `json:"user,omitempty"`
	Assistant  *AssistantTurn  `json:"assistant,omitempty"`
	ToolResult *ToolResultTurn `json:"tool_result,omitempty"`
	System     *SystemTurn     `json:"system,omitempty"`
}

// BlockType tags a ContentBlock.
type BlockType string

const (
	BlockText  BlockType = "text"
	BlockImage BlockType = "image"
)

// ImageSource is either inline base64 data or a URL.
type ImageSource struct {
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ContentBlock is one part of multi-part user content.
type ContentBlock struct {
	Type  BlockType    `json:"type"`
	Text  string       `json:"text,omitempty"`
	Image *ImageSource `json:"image,omitempty"`
}

// UserTurn holds user input. Blocks is set for multi-part content, in which
// case Text is empty.
type UserTurn struct {
	Text   string         `json:"text,omitempty"`
	Blocks []ContentBlock `json:"blocks,omitempty"`
}

// CapabilityCall is one invocation request emitted by the model.
type CapabilityCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// AssistantTurn holds a model response.
type AssistantTurn struct {
	Text  string           `json:"text"`
	Calls []CapabilityCall `json:"calls,omitempty"`
}

// ToolResultTurn holds the outcome of one capability call.
type ToolResultTurn struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// SystemTurn holds operator instructions.
type SystemTurn struct {
	Content string `json:"content"`
}

// NewUserTurn creates a Turn wrapping plain user text.
func NewUserTurn(text string) Turn {
	return Turn{Kind: TurnUser, Timestamp: time.Now(), User: &UserTurn{Text: text}}
}

// NewUserBlocksTurn creates a Turn wrapping multi-part user content.
func NewUserBlocksTurn(blocks []ContentBlock) Turn {
	return Turn{Kind: TurnUser, Timestamp: time.Now(), User: &UserTurn{Blocks: blocks}}
}

// NewAssistantTurn creates a Turn wrapping a model response.
func NewAssistantTurn(text string, calls []CapabilityCall) Turn {
	return Turn{
		Kind:      TurnAssistant,
		Timestamp: time.Now(),
		Assistant: &AssistantTurn{Text: text, Calls: calls},
	}
}

// NewToolResultTurn creates a Turn wrapping one capability result.
func NewToolResultTurn(callID, name, content string, isError bool) Turn {
	return Turn{
		Kind:       TurnToolResult,
		Timestamp:  time.Now(),
		ToolResult: &ToolResultTurn{CallID: callID, Name: name, Content: content, IsError: isError},
	}
}

// NewSystemTurn creates a Turn wrapping operator instructions.
func NewSystemTurn(content string) Turn {
	return Turn{Kind: TurnSystem, Timestamp: time.Now(), System: &SystemTurn{Content: content}}
}

// TextContent returns the text of a turn regardless of its kind. Text
// blocks of multi-part user content are concatenated.
func (t Turn) TextContent() string {
	switch t.Kind {
	case TurnUser:
		if t.User == nil {
			return ""
		}
		if len(t.User.Blocks) == 0 {
			return t.User.Text
		}
		var text string
		for _, b := range t.User.Blocks {
			if b.Type == BlockText {
				text += b.Text
			}
		}
		return text
	case TurnAssistant:
		if t.Assistant != nil {
			return t.Assistant.Text
		}
	case TurnToolResult:
		if t.ToolResult != nil {
			return t.ToolResult.Content
		}
	case TurnSystem:
		if t.System != nil {
			return t.System.Content
		}
	}
	return ""
}
