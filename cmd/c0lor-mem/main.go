package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/victorarias/c0lor-mem/internal/backend"
	"github.com/victorarias/c0lor-mem/internal/config"
	"github.com/victorarias/c0lor-mem/internal/logging"
)

var (
	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag

	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:          "c0lor-mem",
	Short:        "Desktop shell that runs the c0lor-mem pattern worker",
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load (default "+config.ConfigPath()+")")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initShell
	rootCmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		if logger != nil {
			return logger.Close()
		}
		return nil
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "c0lor-mem: %v\n", err)
		if logger != nil {
			logger.Errorf("command failed: %v", err)
			_ = logger.Close()
		}
		os.Exit(1)
	}
}

func initShell(cmd *cobra.Command, _ []string) error {
	if flagConfigFilePath != "" {
		if err := os.Setenv("C0LOR_MEM_CONFIG_PATH", flagConfigFilePath); err != nil {
			return err
		}
		config.Reload()
	}
	if flagVerbose {
		_ = os.Setenv(logging.DebugEnv, "debug")
	}

	l, err := logging.New(config.LogPath())
	if err != nil {
		// Fall back to stderr rather than refusing to run.
		fmt.Fprintf(os.Stderr, "open log %s: %v\n", config.LogPath(), err)
		l = logging.NewWriter(os.Stderr)
	}
	logger = l
	logger.Debugf("command %s, config %s", cmd.Name(), config.ConfigPath())
	return nil
}

// supervisorConfig builds the supervisor settings from the loaded config.
func supervisorConfig() backend.Config {
	portMin, portMax := config.PortRange()
	retries, interval := config.HealthPolicy()
	policy, maxRestarts := config.RestartPolicy()

	return backend.Config{
		WorkerPath:   config.WorkerPath(),
		WorkerArgs:   config.WorkerArgs(),
		WorkerEnv:    config.WorkerEnv(),
		ResourcesDir: config.ResourcesDir(),
		UIOrigin:     config.UIOrigin(),
		Ports:        backend.PortRange{Min: portMin, Max: portMax},
		Health:       backend.HealthPolicy{MaxRetries: retries, Interval: interval},
		StopGrace:    config.DefaultStopGracePeriod,
		Restart: backend.RestartPolicy{
			OnFailure:   policy == config.RestartOnFailure,
			MaxRestarts: maxRestarts,
		},
		Output: func(stream string) io.WriteCloser {
			return logger.LineWriter("worker " + stream)
		},
		Logf: logger.Infof,
	}
}
