package cli

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var debugLogging bool

var rootCmd = &cobra.Command{
	Use:   "pcagent",
	Short: "Judgment and approval workflow agent for parental control",
	Long:  "Judges analyzed content against age-appropriate rules and, when content is blocked,\nlocks the screen behind a parent approval request with timeout supervision.",
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "Verbose development logging")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger honoring --debug.
func newLogger() (*zap.Logger, error) {
	if debugLogging {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
