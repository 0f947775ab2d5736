// Command lamla calls the AI provider chain from the terminal.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"lamla-ai/internal/ai"
	"lamla-ai/internal/config"
)

// clientBuilder assembles the provider chain once flags are parsed.
type clientBuilder func(cfg config.Config, logger *slog.Logger, extra ...ai.Option) *ai.Client

func defaultClient(cfg config.Config, logger *slog.Logger, extra ...ai.Option) *ai.Client {
	opts := []ai.Option{
		ai.WithOrder(cfg.ProviderOrder...),
		ai.WithAttemptTimeout(cfg.AttemptTimeout),
		ai.WithBudget(cfg.FallbackBudget),
		ai.WithLogger(logger),
	}
	return ai.New(append(opts, extra...)...)
}

func main() {
	if err := newRootCmd(defaultClient).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(build clientBuilder) *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:          "lamla",
		Short:        "Lamla AI provider chain",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log provider attempts to stderr")

	load := func(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
		cfg, err := config.Load()
		if err != nil {
			return config.Config{}, nil, err
		}
		if !verbose {
			cfg.LogLevel = slog.LevelError + 4
		}
		return cfg, cfg.NewLogger(cmd.ErrOrStderr()), nil
	}

	root.AddCommand(generateCmd(build, load), providersCmd(build, load))
	return root
}

type loader func(cmd *cobra.Command) (config.Config, *slog.Logger, error)

func generateCmd(build clientBuilder, load loader) *cobra.Command {
	var (
		maxTokens int
		providers []string
		lenient   bool
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Run a prompt through the fallback chain",
		Long: `Run a prompt through the provider fallback chain and print the result.

The prompt is read from stdin when no argument is given or the argument is "-".
Structured replies are printed as indented JSON.

Examples:
  lamla generate "Summarize photosynthesis in one sentence"
  lamla generate --providers gemini,deepseek --max-tokens 200 < notes.txt`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}
			if timeout > 0 {
				cfg.AttemptTimeout = timeout
			}
			client := build(cfg, logger)

			res, err := client.GenerateContent(cmd.Context(), ai.Request{
				Prompt:    prompt,
				MaxTokens: maxTokens,
				Providers: providers,
				Lenient:   lenient,
			})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVar(&maxTokens, "max-tokens", ai.DefaultMaxTokens, "maximum tokens to generate")
	cmd.Flags().StringSliceVar(&providers, "providers", nil, "provider order for this call (comma separated)")
	cmd.Flags().BoolVar(&lenient, "lenient", false, "print an empty result instead of failing when every provider fails")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-provider timeout (default from AI_PROVIDER_TIMEOUT)")
	return cmd
}

func providersCmd(build clientBuilder, load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Show which providers in the default order are configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}
			client := build(cfg, logger)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tCONFIGURED\tREASON")
			for _, status := range client.Status() {
				fmt.Fprintf(tw, "%s\t%t\t%s\n", status.Name, status.Configured, status.Reason)
			}
			return tw.Flush()
		},
	}
}

func readPrompt(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func printResult(w io.Writer, res ai.Result) error {
	if !res.Structured() {
		_, err := fmt.Fprintln(w, res.Text())
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(res)
}
