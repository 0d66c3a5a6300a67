package commands

import (
	"github.com/spf13/cobra"
)

// Global flags
var verbose bool

var rootCmd = &cobra.Command{
	Use:   "voxwire",
	Short: "Realtime voice conversation server",
	Long: `voxwire - a realtime voice conversation backend.

Clients stream microphone PCM over a WebSocket. voxwire segments speech,
transcribes completed utterances, generates a reply and streams synthesized
audio back sentence by sentence. Pending reply sentences sit in a durable
per-client queue, so a busy speaker always hears them in order and a barge-in
can drop them all at once.

Provider credentials are read from environment variables named in the
configuration file (api_key_env), OPENAI_API_KEY and GEMINI_API_KEY by
default.

Examples:
  voxwire serve --config voxwire.yaml
  voxwire check --config voxwire.yaml
  voxwire version`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}
