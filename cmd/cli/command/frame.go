package command

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"screenrelay/internal/session"
)

var frameCmd = &cobra.Command{
	Use:   "frame",
	Short: "Stream an image file as screen frames",
	Long: `Re-read an image file every frame interval and stream it to every other client.
Point a capture tool at the same file to share a live screen. Chat works as in "chat",
except that streaming continues after stdin closes: only 'exit' or Ctrl+C stop it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			return fmt.Errorf("--file is required")
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("frame file: %w", err)
		}

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval > 0 {
			cfg.FrameInterval = interval
		}
		return runClient(cmd, session.FileFrameSource{Path: path}, "", false)
	},
}

func init() {
	rootCmd.AddCommand(frameCmd)

	frameCmd.Flags().StringP("file", "f", "", "image file to stream (required)")
	frameCmd.Flags().Duration("interval", 0, "time between frames (default FRAME_INTERVAL)")
	frameCmd.MarkFlagRequired("file")
}
