package relay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"screenrelay/internal/clock"
)

// AdminQueue hands operator lines from the blocking console goroutine to the
// dispatch side. Unbounded FIFO, no deduplication. The queue is the only state
// the two sides share.
type AdminQueue struct {
	mu    sync.Mutex
	items []string
}

// Push appends a message, never blocks
func (q *AdminQueue) Push(msg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, msg)
}

// Drain removes and returns everything queued right now, in order
func (q *AdminQueue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	drained := q.items
	q.items = nil
	return drained
}

// Len returns the number of queued messages
func (q *AdminQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// AdminPump polls the queue every Interval and broadcasts what it drains
type AdminPump struct {
	Queue      *AdminQueue
	Dispatcher *Dispatcher
	Clock      clock.Clock
	Interval   time.Duration
	Logger     *slog.Logger
}

// Run polls until ctx is cancelled. Each drained message is one full
// registry broadcast.
func (p *AdminPump) Run(ctx context.Context) error {
	clk := p.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ticker := clk.NewTicker(p.Interval)
	defer ticker.Stop()

	logger.Info("admin_pump_started", "interval", p.Interval.String())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, msg := range p.Queue.Drain() {
				p.Dispatcher.Broadcast(msg)
			}
		}
	}
}

// RunConsole reads operator lines from r and queues them until "exit" or EOF.
// It blocks on r, so run it in its own goroutine. A read error ends only this
// loop; the relay keeps running.
func RunConsole(r io.Reader, w io.Writer, q *AdminQueue) error {
	fmt.Fprintln(w, "Server admin chat enabled. Type messages to broadcast to all clients.")
	scanner := bufio.NewScanner(r)
	for {
		fmt.Fprint(w, "Server broadcast > ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("admin console read failed: %w", err)
			}
			return nil // EOF
		}
		line := scanner.Text()
		if strings.EqualFold(strings.TrimSpace(line), "exit") {
			fmt.Fprintln(w, "Server admin chat disabled.")
			return nil
		}
		q.Push(line)
	}
}
