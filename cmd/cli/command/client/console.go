package client

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"

	"screenrelay/internal/shared"
)

// console.go = terminal renderer for relay traffic

const (
	prompt        = "You > "
	previewLength = 50
)

// ConsoleRenderer prints inbound traffic and re-prints the prompt after each
// line. SavePath (optional) receives the latest screen frame.
type ConsoleRenderer struct {
	Out      io.Writer
	SavePath string

	mu     sync.Mutex
	chat   *color.Color
	screen *color.Color
	other  *color.Color
}

// constructor for ConsoleRenderer
func NewConsoleRenderer(out io.Writer, savePath string) *ConsoleRenderer {
	return &ConsoleRenderer{
		Out:      out,
		SavePath: savePath,
		chat:     color.New(color.FgCyan),
		screen:   color.New(color.FgHiBlack),
		other:    color.New(color.FgYellow),
	}
}

func (r *ConsoleRenderer) Chat(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat.Fprintf(r.Out, "\n%s\n", text)
	fmt.Fprint(r.Out, prompt)
}

func (r *ConsoleRenderer) Screen(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.screen.Fprintf(r.Out, "\nReceived screen data (%d bytes)\n", len(frame))
	if r.SavePath != "" {
		if err := os.WriteFile(r.SavePath, frame, 0o644); err != nil {
			r.other.Fprintf(r.Out, "Could not save frame: %v\n", err)
		}
	}
	fmt.Fprint(r.Out, prompt)
	return nil
}

func (r *ConsoleRenderer) Other(raw string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.other.Fprintf(r.Out, "\nReceived: %s\n", shared.Preview(raw, previewLength))
	fmt.Fprint(r.Out, prompt)
}

// Prompt prints the input prompt, used by the input collector
func (r *ConsoleRenderer) Prompt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.Out, prompt)
}
