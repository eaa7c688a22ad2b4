package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"voxrag/internal/session"
)

var (
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	answerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	sourceStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	commandStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	degradedBadge = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render("(no document context)")
)

// CLI is the interactive terminal front end for one session.
type CLI struct {
	sess     *session.Session
	audioDir string
	logger   *slog.Logger
	in       io.Reader
	out      io.Writer

	thinkMu   sync.Mutex
	thinking  bool
	thinkStop chan struct{}
}

type CLIConfig struct {
	Session  *session.Session
	AudioDir string // where voice-mode replies are written as mp3 files
	Logger   *slog.Logger
	In       io.Reader
	Out      io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		sess:     cfg.Session,
		audioDir: cfg.AudioDir,
		logger:   cfg.Logger,
		in:       cfg.In,
		out:      cfg.Out,
	}
}

// Run drives the read-eval-print loop until the session terminates, the
// input closes, or the context is cancelled.
func (c *CLI) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, commandStyle.Render("voxrag: ask about your documents. /help for commands, exit to quit."))
	fmt.Fprint(c.out, promptStyle.Render("you> "))

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(c.out, promptStyle.Render("you> "))
			continue
		}

		c.startThinking()
		result, err := c.sess.HandleInput(ctx, line)
		c.stopThinking()

		c.render(result, err)
		if result != nil && result.Terminated {
			return nil
		}
		fmt.Fprint(c.out, promptStyle.Render("you> "))
	}
}

func (c *CLI) render(result *session.TurnResult, err error) {
	if result == nil {
		if err != nil {
			fmt.Fprintln(c.out, errorStyle.Render(err.Error()))
		}
		return
	}
	if result.Notice != "" {
		fmt.Fprintln(c.out, noticeStyle.Render(result.Notice))
	}
	if result.Response == "" {
		return
	}

	if result.Command {
		fmt.Fprintln(c.out, commandStyle.Render(result.Response))
		return
	}

	fmt.Fprintln(c.out, answerStyle.Render(result.Response))
	if result.Degraded {
		fmt.Fprintln(c.out, degradedBadge)
	}
	if len(result.Sources) > 0 {
		fmt.Fprintln(c.out, sourceStyle.Render("sources: "+strings.Join(result.Sources, ", ")))
	}
	if result.Audio != nil {
		path, saveErr := c.saveAudio(result.Audio)
		if saveErr != nil {
			fmt.Fprintln(c.out, noticeStyle.Render("could not save audio: "+saveErr.Error()))
		} else {
			fmt.Fprintln(c.out, sourceStyle.Render("audio: "+path))
		}
	}
}

func (c *CLI) saveAudio(audio io.ReadCloser) (string, error) {
	defer audio.Close()

	if err := os.MkdirAll(c.audioDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(c.audioDir, fmt.Sprintf("reply-%d.mp3", time.Now().UnixMilli()))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, audio); err != nil {
		return "", err
	}
	return path, nil
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-c.thinkStop:
				fmt.Fprint(c.out, "\r\033[K")
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s thinking...", frames[i%len(frames)])
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}
