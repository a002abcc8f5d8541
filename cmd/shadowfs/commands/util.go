package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/shadowfs/internal/cli/output"
	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/pkg/apiclient"
	"github.com/marmos91/shadowfs/pkg/config"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// getConfigSource describes where the configuration came from.
func getConfigSource(path string) string {
	if path != "" {
		return path
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// newClient returns an API client for the server named by --api-url.
func newClient() *apiclient.Client {
	return apiclient.New(apiURL)
}

// newPrinter returns a printer writing to cmd's output that honors the
// --output and --no-color flags.
func newPrinter(cmd *cobra.Command) (*output.Printer, error) {
	format, err := output.ParseFormat(outputFl)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(cmd.OutOrStdout(), format, !noColor), nil
}
