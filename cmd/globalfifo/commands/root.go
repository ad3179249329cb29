package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/globalfifo/cmd/globalfifo/internal/config"
	"github.com/haivivi/globalfifo/pkg/cli"
)

var (
	// Global flags
	verbose      bool
	formatOutput string
	outputFile   string
	jqQuery      string
	contextName  string
	serverURL    string
	serverSocket string

	// Global configuration (loaded at init time)
	globalConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "globalfifo",
	Short: "Bounded in-memory FIFO devices served over WebSocket",
	Long: `globalfifo - a set of bounded byte FIFOs with blocking I/O, poll and
asynchronous notification, served as remote device nodes.

Commands:
  serve      Run the daemon
  read       Read from a device
  write      Write to a device
  clear      Discard a device's contents
  stat       Show device counters
  poll       Wait for devices to become readable or writable
  watch      Receive async notifications and drain the device
  script     Run a scripted sequence of device operations
  config     Manage contexts and service configurations
  version    Show version information

Configuration is stored in the OS config directory (override with
$GLOBALFIFO_CONFIG_DIR):
  macOS:   ~/Library/Application Support/globalfifo/
  Linux:   ~/.config/globalfifo/
  Windows: %AppData%/globalfifo/

Examples:
  # Run the daemon with 4 devices of 1 KiB
  globalfifo serve --devices 4 --capacity 1024

  # In another terminal
  globalfifo write 0 hello
  globalfifo read 0
  globalfifo poll 0 1 --timeout 5s
  globalfifo stat --jq '.[] | select(.len > 0) | .index'`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		if _, err := cli.ParseFormat(formatOutput); err != nil {
			return err
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logs)")
	rootCmd.PersistentFlags().StringVar(&formatOutput, "format", "table", "output format: table, yaml, json, raw")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "output file path")
	rootCmd.PersistentFlags().StringVar(&jqQuery, "jq", "", "jq expression applied to structured output")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context to use (default: current context)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "server URL (overrides client.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverSocket, "socket", "", "unix socket: dialed instead of the URL host, also served by serve")
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// configLoadErr stores the error from config.Load() for deferred reporting.
var configLoadErr error

func initConfig() {
	cfg, err := config.Load()
	if err != nil {
		// Only commands that need config report it.
		configLoadErr = err
		return
	}
	globalConfig = cfg
}

// GetConfig returns the global configuration.
func GetConfig() (*config.Config, error) {
	if os.Getenv(config.EnvDir) != "" || globalConfig == nil {
		// Re-read so a changed $GLOBALFIFO_CONFIG_DIR takes effect.
		cfg, err := config.Load()
		if err != nil {
			if configLoadErr != nil {
				err = configLoadErr
			}
			return nil, fmt.Errorf("config not available: %w", err)
		}
		globalConfig = cfg
	}
	return globalConfig, nil
}

// contextDir resolves --context or the current context. It returns "" when
// neither is set.
func contextDir() (string, error) {
	cfg, err := GetConfig()
	if err != nil {
		return "", err
	}
	return cfg.ResolveContext(contextName)
}

// output writes v using the global --format, --output and --jq flags.
func output(v any) error {
	format, err := cli.ParseFormat(formatOutput)
	if err != nil {
		return err
	}
	return cli.Output(v, cli.OutputOptions{
		Format: format,
		File:   outputFile,
		Query:  jqQuery,
	})
}

// structured reports whether results should be emitted as data rather than
// human-oriented lines.
func structured() bool {
	return jqQuery != "" || formatOutput == string(cli.FormatJSON) || formatOutput == string(cli.FormatYAML)
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}
