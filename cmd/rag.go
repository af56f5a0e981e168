package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var ragCmd = &cobra.Command{
	Use:   "rag",
	Short: "Inspect the knowledge vault",
}

var ragQueryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Show the context retrieval would add for a text",
	Long:  "Runs the retrieval step alone. An empty text shows what a proactive turn would retrieve.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.RAG.Enabled {
			return errors.New("retrieval is disabled (set rag.enabled in config.json)")
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		augmenter, err := buildAugmenter(ctx, cfg, log)
		if err != nil {
			return err
		}

		text := strings.TrimSpace(strings.Join(args, " "))
		query := augmenter.BuildQuery(text, nil)
		retrieved, err := augmenter.Retrieve(ctx, text, nil)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "query: %s\n", query.Text)
		if retrieved == "" {
			fmt.Fprintln(out, "no context")
			return nil
		}
		fmt.Fprintln(out, retrieved)
		return nil
	},
}

func init() {
	ragCmd.AddCommand(ragQueryCmd)
	rootCmd.AddCommand(ragCmd)
}
