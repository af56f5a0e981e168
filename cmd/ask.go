package cmd

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"vtagent/pkg/input"
	"vtagent/pkg/pipeline"
)

var (
	promptText    string
	clipboardText string
	imageFlags    []string
	groupWith     []string
	showSpeech    bool
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Run one turn and print the reply as it streams",
	Long: "Sends one turn and prints each sentence as soon as it is ready. " +
		"Without any prompt, clipboard text or image the character starts a topic on its own.",
	RunE: func(cmd *cobra.Command, args []string) error {
		turn, err := buildTurn(resolvePrompt(args), clipboardText, imageFlags)
		if err != nil {
			return err
		}

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

		if len(groupWith) > 0 {
			if err := a.agent.StartGroupConversation(cfg.Character.HumanName, groupWith); err != nil {
				return err
			}
		}

		seq, err := a.session().Chat(ctx, turn)
		if err != nil {
			return err
		}
		return printSentences(cmd.OutOrStdout(), seq, showSpeech)
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&promptText, "prompt", "p", "", "prompt text to send")
	askCmd.Flags().StringVar(&clipboardText, "clipboard", "", "clipboard text to attach")
	askCmd.Flags().StringArrayVar(&imageFlags, "image", nil, "image to attach as source=reference (camera, screen, clipboard, upload)")
	askCmd.Flags().StringSliceVar(&groupWith, "group-with", nil, "other AI characters sharing the conversation")
	askCmd.Flags().BoolVar(&showSpeech, "speech", false, "print the speech text under each sentence")
}

func resolvePrompt(args []string) string {
	if value := strings.TrimSpace(promptText); value != "" {
		return value
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

// buildTurn assembles a turn from command line parts. Empty parts are left
// out, so an empty turn is a proactive one.
func buildTurn(prompt string, clipboard string, images []string) (input.BatchInput, error) {
	var turn input.BatchInput
	if prompt != "" {
		turn.Texts = append(turn.Texts, input.TextInput{Source: input.TextSourceInput, Content: prompt})
	}
	if clipboard = strings.TrimSpace(clipboard); clipboard != "" {
		turn.Texts = append(turn.Texts, input.TextInput{Source: input.TextSourceClipboard, Content: clipboard})
	}

	for _, raw := range images {
		image, err := parseImageFlag(raw)
		if err != nil {
			return input.BatchInput{}, err
		}
		turn.Images = append(turn.Images, image)
	}

	if _, err := input.FormatPrompt(turn); err != nil {
		return input.BatchInput{}, err
	}
	return turn, nil
}

func parseImageFlag(raw string) (input.ImageInput, error) {
	source, reference, ok := strings.Cut(raw, "=")
	source = strings.TrimSpace(source)
	reference = strings.TrimSpace(reference)
	if !ok || source == "" || reference == "" {
		return input.ImageInput{}, fmt.Errorf("image %q must look like source=reference", raw)
	}

	return input.ImageInput{Source: input.ImageSource(source), Reference: reference}, nil
}

func printSentences(out io.Writer, seq iter.Seq2[pipeline.SentenceOutput, error], withSpeech bool) error {
	for output, err := range seq {
		if err != nil {
			return err
		}

		line := strings.TrimSpace(output.Display.Text)
		if expressions := output.Actions.Expressions; len(expressions) > 0 {
			line = "[" + strings.Join(expressions, ", ") + "] " + line
		}
		if line == "" {
			continue
		}
		fmt.Fprintln(out, line)

		if withSpeech {
			if speech := strings.TrimSpace(output.Speech); speech != "" {
				fmt.Fprintln(out, "  🔊 "+speech)
			}
		}
	}
	return nil
}
