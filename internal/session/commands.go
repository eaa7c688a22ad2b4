package session

import (
	"context"
	"fmt"
	"strings"

	"voxrag/internal/domain"
)

// Command is a parsed slash command.
type Command struct {
	Name string
	Args []string
}

// ParseCommand parses a "/command arg..." input. Plain text and the bare
// exit words return nil for everything except exit handling, done by the
// caller.
func ParseCommand(text string) *Command {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil
	}
	cmd := &Command{Name: strings.ToLower(strings.TrimPrefix(parts[0], "/"))}
	if len(parts) > 1 {
		cmd.Args = parts[1:]
	}
	return cmd
}

// handleCommand executes commands and exit words. A nil return means the
// input is a normal conversation turn. Unknown slash commands also fall
// through to the model; people type "/shrug" and expect an answer.
func (s *Session) handleCommand(ctx context.Context, input string) *TurnResult {
	trimmed := strings.ToLower(strings.TrimSpace(input))
	if trimmed == "exit" || trimmed == "quit" {
		s.state = StateTerminated
		return &TurnResult{Command: true, Terminated: true, Response: "Goodbye."}
	}

	cmd := ParseCommand(input)
	if cmd == nil {
		return nil
	}

	switch cmd.Name {
	case "help":
		return &TurnResult{Command: true, Response: helpText()}

	case "mode":
		return s.handleModeCommand(cmd.Args)

	case "clear":
		s.history = nil
		s.logger.Info("conversation cleared", "session", s.id)
		return &TurnResult{Command: true, Response: "Conversation cleared. Starting fresh."}

	case "stats":
		return &TurnResult{Command: true, Response: s.statsText()}

	case "reload":
		if s.reloader == nil {
			return &TurnResult{Command: true, Response: "Document reload is not available."}
		}
		report, err := s.reloader.Sync(ctx)
		if err != nil {
			return &TurnResult{Command: true, Response: fmt.Sprintf("Reload failed: %v", err)}
		}
		return &TurnResult{Command: true, Response: fmt.Sprintf(
			"Documents reloaded: %d ingested, %d unchanged, %d removed, %d failed.",
			report.Ingested, report.Skipped, report.Removed, report.Failed)}

	default:
		return nil
	}
}

func (s *Session) handleModeCommand(args []string) *TurnResult {
	if len(args) == 0 {
		return &TurnResult{Command: true, Response: fmt.Sprintf("Current mode: %s", s.mode)}
	}
	switch strings.ToLower(args[0]) {
	case string(domain.ModeText):
		s.mode = domain.ModeText
		return &TurnResult{Command: true, Response: "Switched to text mode."}
	case string(domain.ModeVoice):
		if s.synthesizer == nil && s.transcriber == nil {
			return &TurnResult{Command: true, Response: "Voice mode is not available: audio is disabled in the config."}
		}
		s.mode = domain.ModeVoice
		return &TurnResult{Command: true, Response: "Switched to voice mode."}
	default:
		return &TurnResult{Command: true, Response: fmt.Sprintf("Unknown mode %q. Use /mode text or /mode voice.", args[0])}
	}
}

func (s *Session) statsText() string {
	if s.stats == nil {
		return "Index statistics are not available."
	}
	st := s.stats.Stats()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Passages: %d\n", st.Passages)
	fmt.Fprintf(&sb, "Sources: %d\n", st.Sources)
	fmt.Fprintf(&sb, "Embedding model: %s\n", st.ModelID)
	fmt.Fprintf(&sb, "Metric: %s\n", st.Metric)
	fmt.Fprintf(&sb, "History turns: %d", len(s.history))
	return sb.String()
}

func helpText() string {
	return `Commands:

/help           Show this help message
/mode           Show the current input/output mode
/mode text      Switch to text mode
/mode voice     Switch to voice mode
/clear          Clear the conversation history
/stats          Show index and session statistics
/reload         Re-sync the document directory
exit, quit      End the session`
}
