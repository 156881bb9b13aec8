// Package main implements genbatch, a CLI that runs a YAML batch of
// generation requests against Gemini. State is kept in a local SQLite
// database so an interrupted or partly failed run resumes where it stopped.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	statePath string
	logLevel  string

	// settings bound to flags and GENPIPE_* environment variables
	settings = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "genbatch",
	Short: "Run batches of generation requests with retries and resume",
	Long: `genbatch runs every item of a batch file through the model in order,
retrying overloaded and rate-limited calls with exponential backoff.
Interrupt with Ctrl-C at any time; running the same file again resumes
the batch, generating only the items that are not done.`,
	SilenceUsage: true,
}

func init() {
	settings.SetEnvPrefix("GENPIPE")
	settings.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	settings.AutomaticEnv()

	rootCmd.PersistentFlags().StringVar(&statePath, "state", "genbatch.db", "SQLite file holding batch state")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	runCmd.Flags().StringP("file", "f", "", "Batch file (YAML)")
	runCmd.Flags().String("api-key", "", "Gemini API key (or GENPIPE_LLM_GEMINI_API_KEY)")
	runCmd.Flags().String("model", "gemini-2.0-flash", "Gemini model name")
	runCmd.Flags().String("prompt-template", "", "Prompt template file (text/template over .Title and .Prompt)")
	runCmd.Flags().Int("max-attempts", 3, "Attempts per item, including the first")
	runCmd.Flags().Duration("base-delay", 2*time.Second, "Delay before the first retry")
	runCmd.Flags().Float64("backoff-factor", 2, "Delay multiplier per retry")
	runCmd.Flags().Duration("max-delay", time.Minute, "Cap on a single retry delay (0 for none)")
	runCmd.Flags().Bool("fresh", false, "Start a new batch instead of resuming")
	_ = runCmd.MarkFlagRequired("file")

	for key, flag := range map[string]string{
		"llm.gemini_api_key":       "api-key",
		"llm.model_name":           "model",
		"llm.prompt_template_path": "prompt-template",
		"retry.max_attempts":       "max-attempts",
		"retry.base_delay":         "base-delay",
		"retry.backoff_factor":     "backoff-factor",
		"retry.max_delay":          "max-delay",
	} {
		_ = settings.BindPFlag(key, runCmd.Flags().Lookup(flag))
	}

	statusCmd.Flags().String("batch", "", "Batch ID or name (default: most recent run of --file)")
	statusCmd.Flags().StringP("file", "f", "", "Batch file whose latest run to show")
	statusCmd.Flags().Bool("json", false, "Print status as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
