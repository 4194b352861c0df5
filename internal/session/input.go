package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const inputBuffer = 64

// StartInputCollector reads lines from r on its own goroutine, for the whole
// life of the process. It is started once; sessions share the channel
// across reconnects. The channel closes after "exit" or when r ends.
// prompt (optional) is called before every read.
func StartInputCollector(r io.Reader, prompt func(), logger *slog.Logger) <-chan string {
	if logger == nil {
		logger = slog.Default()
	}
	lines := make(chan string, inputBuffer)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for {
			if prompt != nil {
				prompt()
			}
			if !scanner.Scan() {
				break
			}
			line := scanner.Text()
			lines <- line
			if strings.EqualFold(strings.TrimSpace(line), "exit") {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("input_read_failed", "error", err.Error())
		}
	}()

	return lines
}

// FileFrameSource serves the current contents of an image file on every
// call, so an external capture tool can keep overwriting it
type FileFrameSource struct {
	Path string
}

func (f FileFrameSource) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", f.Path, err)
	}
	return data, nil
}
