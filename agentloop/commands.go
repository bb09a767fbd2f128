package agentloop

import "strings"

// CommandKind names a session command.
type CommandKind string

const (
	CmdReset   CommandKind = "reset"
	CmdRefresh CommandKind = "refresh"
	CmdModels  CommandKind = "models"
	CmdModel   CommandKind = "model"
	CmdQuit    CommandKind = "quit"
	CmdExport  CommandKind = "export"
	CmdHelp    CommandKind = "help"
	CmdTools   CommandKind = "tools"
)

// Command is a parsed session command. Arg holds the model id or export
// path with its original case. Usage is set when a command that needs an
// argument was typed without one.
type Command struct {
	Kind  CommandKind
	Arg   string
	Usage string
}

// HelpText lists the session commands.
const HelpText = `Available commands:
  refresh, /refresh        Reload available tools
  reset, /reset            Clear conversation history
  models, /models          List available models
  model <id>, /model <id>  Switch models
  export <path>            Write the conversation to a JSON file
  /tools                   List loaded tools
  /help                    Show this help
  quit, /quit              Exit`

// ParseCommand recognizes command input. Matching is case-insensitive and
// both bare and slash forms are accepted, except help and tools which
// require the slash. A bare model or export without an argument is
// conversation input, as is anything else.
func ParseCommand(input string) (Command, bool) {
	text := strings.TrimSpace(input)
	if text == "" {
		return Command{}, false
	}
	slash := strings.HasPrefix(text, "/")
	body := strings.TrimPrefix(text, "/")

	word, rest, _ := strings.Cut(body, " ")
	word = strings.ToLower(word)
	rest = strings.TrimSpace(rest)

	switch CommandKind(word) {
	case CmdReset, CmdRefresh, CmdModels, CmdQuit:
		if rest != "" {
			return Command{}, false
		}
		return Command{Kind: CommandKind(word)}, true
	case CmdHelp, CmdTools:
		if !slash || rest != "" {
			return Command{}, false
		}
		return Command{Kind: CommandKind(word)}, true
	case CmdModel:
		if rest == "" {
			if !slash {
				return Command{}, false
			}
			return Command{Kind: CmdModel, Usage: "Usage: model <id>"}, true
		}
		return Command{Kind: CmdModel, Arg: rest}, true
	case CmdExport:
		if rest == "" {
			if !slash {
				return Command{}, false
			}
			return Command{Kind: CmdExport, Usage: "Export command requires a filename. Usage: export <filename>"}, true
		}
		return Command{Kind: CmdExport, Arg: rest}, true
	}
	return Command{}, false
}
