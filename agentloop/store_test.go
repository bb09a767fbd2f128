package agentloop

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/coderoute/unifiedllm"
)

func TestToWireSystemOnly(t *testing.T) {
	s := NewConversationStore()
	s.Append(NewSystemTurn("Be terse."))

	wire := s.ToWire("default")
	require.Len(t, wire, 1)
	assert.Equal(t, unifiedllm.RoleUser, wire[0].Role)
	assert.Equal(t, "System instructions: Be terse.", wire[0].TextContent())
}

func TestToWireEmptyStoreGetsDefaultInstructions(t *testing.T) {
	wire := NewConversationStore().ToWire(LeadInstructions)
	require.Len(t, wire, 1)
	assert.Equal(t, unifiedllm.RoleUser, wire[0].Role)
	assert.True(t, strings.HasPrefix(wire[0].TextContent(), "System instructions: "+DefaultInstructions))
	assert.Contains(t, wire[0].TextContent(), "<tool_usage>")
}

func TestToWireLeavesUserFirstTranscriptAlone(t *testing.T) {
	s := NewConversationStore()
	s.Append(NewUserTurn("hi"), NewAssistantTurn("hello", nil))

	wire := s.ToWire("default")
	require.Len(t, wire, 2)
	assert.Equal(t, "hi", wire[0].TextContent())
	assert.Equal(t, unifiedllm.RoleAssistant, wire[1].Role)
}

func TestToWireInjectsLeadBeforeAssistant(t *testing.T) {
	s := NewConversationStore()
	s.Append(NewAssistantTurn("restored", nil))

	wire := s.ToWire("default")
	require.Len(t, wire, 2)
	assert.Equal(t, "System instructions: default", wire[0].TextContent())
}

func TestToWireToolBatch(t *testing.T) {
	s := NewConversationStore()
	s.Append(NewUserTurn("find python files"))
	s.Append(
		NewAssistantTurn("", []CapabilityCall{{ID: "c1", Name: "globtool", Arguments: json.RawMessage(`{"pattern":"*.py"}`)}}),
		NewToolResultTurn("c1", "globtool", "main.py", false),
	)
	s.Append(NewSystemTurn("late instruction"))

	wire := s.ToWire("default")
	require.Len(t, wire, 4)

	calls := wire[1].ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "c1", calls[0].ID)
	assert.Empty(t, wire[1].TextContent())

	assert.Equal(t, unifiedllm.RoleTool, wire[2].Role)
	assert.Equal(t, "c1", wire[2].ToolCallID)
	assert.Equal(t, "globtool", wire[2].Name)

	assert.Equal(t, unifiedllm.RoleUser, wire[3].Role)
	assert.Equal(t, "System instructions: late instruction", wire[3].TextContent())
}

func TestToWireImageBlocks(t *testing.T) {
	s := NewConversationStore()
	s.Append(NewUserBlocksTurn([]ContentBlock{
		{Type: BlockText, Text: "what is this?"},
		{Type: BlockImage, Image: &ImageSource{MediaType: "image/jpeg", Data: "aGk="}},
		{Type: BlockImage, Image: &ImageSource{URL: "https://example.com/cat.png"}},
	}))

	wire := s.ToWire("default")
	require.Len(t, wire, 1)
	require.Len(t, wire[0].Content, 3)
	assert.Equal(t, "data:image/jpeg;base64,aGk=", wire[0].Content[1].Image.URL)
	assert.Equal(t, "https://example.com/cat.png", wire[0].Content[2].Image.URL)
}

func TestTranscriptRoundTrip(t *testing.T) {
	s := NewConversationStore()
	s.Append(NewSystemTurn("rules"), NewUserTurn("list files"))
	s.Append(
		NewAssistantTurn("checking", []CapabilityCall{
			{ID: "call_1", Name: "globtool", Arguments: json.RawMessage(`{"pattern":"*.py"}`)},
			{ID: "call_2", Name: "doesnotexist", Arguments: json.RawMessage(`{}`)},
		}),
		NewToolResultTurn("call_1", "globtool", "main.py", false),
		NewToolResultTurn("call_2", "doesnotexist", "Tool not found: doesnotexist", true),
	)
	s.Append(NewAssistantTurn("Found main.py", nil))

	path := filepath.Join(t.TempDir(), "out", "transcript.json")
	require.NoError(t, s.ExportFile(path))

	loaded, err := ReadTranscript(path)
	require.NoError(t, err)
	if diff := cmp.Diff(s.All(), loaded, jsonArgs); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}
}

// jsonArgs compares call arguments by value, since export re-indents them.
var jsonArgs = cmp.Transformer("jsonArgs", func(raw json.RawMessage) any {
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
})

func TestExportEmptyStoreIsEmptyArray(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, NewConversationStore().Export(&sb))
	assert.Equal(t, "[]\n", sb.String())
}

func TestDecodeTranscriptRejectsMismatchedPayload(t *testing.T) {
	_, err := DecodeTranscript(strings.NewReader(`[{"kind":"user","timestamp":"2026-01-01T00:00:00Z"}]`))
	assert.ErrorContains(t, err, "without a matching payload")
}
