package command

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"screenrelay/cmd/cli/command/client"
	"screenrelay/internal/session"
)

// runClient runs one relay session on the terminal until "exit" or Ctrl+C.
// With endOnInputClose the session also ends once stdin is exhausted.
func runClient(cmd *cobra.Command, frames session.FrameSource, savePath string, endOnInputClose bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	renderer := client.NewConsoleRenderer(out, savePath)
	status := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)

	status.Fprintf(out, "Connecting to %s (type 'exit' to quit)\n", cfg.ServerURL)

	// started once, survives every reconnect
	input := session.StartInputCollector(cmd.InOrStdin(), renderer.Prompt, slog.Default())

	s := &session.Session{
		Dialer: &session.WebsocketDialer{
			URL:       cfg.ServerURL,
			WriteWait: cfg.WriteWait,
			ReadLimit: cfg.MaxMessageSize,
		},
		Input:             input,
		Renderer:          renderer,
		Frames:            frames,
		Backoff:           cfg.ReconnectBackoff,
		KeepaliveInterval: cfg.KeepaliveInterval,
		PongWait:          cfg.PongWait,
		FrameInterval:     cfg.FrameInterval,
		EndOnInputClose:   endOnInputClose,
		OnState: func(state session.State) {
			switch state {
			case session.StateActive:
				status.Fprintln(out, "Connected to server")
			case session.StateReconnecting:
				warn.Fprintf(out, "Connection lost. Reconnecting in %s...\n", cfg.ReconnectBackoff)
			}
		},
		Logger: slog.Default(),
	}

	err := s.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err == nil {
		status.Fprintln(out, "Goodbye")
	}
	return err
}
