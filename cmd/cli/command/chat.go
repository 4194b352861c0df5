package command

import (
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join the relay chat",
	Long: `Connect to the relay and chat with every other connected client in real-time.
Screen frames streamed by other clients are reported as they arrive.
Type 'exit' to quit. When stdin is a file or pipe, the session ends after its last
line has been sent, so "relaycli chat < lines.txt" terminates on its own.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		savePath, _ := cmd.Flags().GetString("save")
		return runClient(cmd, nil, savePath, true)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().String("save", "", "write the latest received screen frame to this file")
}
