package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vtagent/pkg/ui/chat"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the character in an interactive terminal",
	Long:  "Starts a streaming chat. Replies appear sentence by sentence; press Esc while the character speaks to interrupt.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		return chat.RunInteractive(ctx, a.session(), chat.RuntimeInfo{
			Character: cfg.Character.Name,
			Provider:  cfg.Agent.Provider,
			Model:     cfg.Agent.Model,
			Retrieval: a.augmenter != nil,
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
