package command

// root.go defines the root command for the relaycli application.
// set up the global flags and configuration here.

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"screenrelay/internal/config"
)

var (
	serverURL string         // Global flag for relay server URL
	cfg       *config.Config // loaded before every subcommand
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "relaycli",
	Short: "relaycli - screen relay client",
	Long: `relaycli connects to a screen relay server. User can use this application to:
- Chat with every other connected client
- Stream an image file as live screen frames
- Watch frames streamed by other clients

The session reconnects on its own when the server goes away.
Type "exit" to leave. Use "relaycli command -h" to see all available commands.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if serverURL != "" {
			loaded.ServerURL = serverURL
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		// logs go to stderr, stdout belongs to the chat
		slog.SetDefault(cfg.NewLogger(os.Stderr))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err) // Print error to standard error
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags = available to all subcommands
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "relay server URL (overrides SERVER_URL)")
}
