package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/victorarias/c0lor-mem/internal/client"
	"github.com/victorarias/c0lor-mem/internal/config"
	"github.com/victorarias/c0lor-mem/internal/protocol"
	"github.com/victorarias/c0lor-mem/internal/registry"
)

var (
	flagHealthURL   string
	flagHealthToken string
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check a running worker's health endpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		info, err := healthTarget()
		if err != nil {
			return err
		}
		c := client.New(client.Static(info), nil)
		resp, err := c.Health(cmd.Context())
		if err != nil {
			fmt.Println("? worker unreachable")
			return err
		}
		fmt.Printf("✓ worker %s\n", resp.Status)
		return nil
	},
}

// healthTarget prefers --url and falls back to the running shell's registry.
// The token always comes from --token or the environment.
func healthTarget() (protocol.BackendInfo, error) {
	token := flagHealthToken
	if token == "" {
		token = os.Getenv(protocol.EnvAuthToken)
	}
	if token == "" {
		return protocol.BackendInfo{}, fmt.Errorf("no auth token: pass --token or set $%s", protocol.EnvAuthToken)
	}
	if flagHealthURL != "" {
		return protocol.BackendInfo{BaseURL: flagHealthURL, Token: token}, nil
	}
	entry, err := registry.ReadLive(config.RegistryPath())
	if err != nil {
		return protocol.BackendInfo{}, fmt.Errorf("no running worker (use --url): %w", err)
	}
	return entry.Info(token), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(config.Current()); err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		return enc.Close()
	},
}

func init() {
	healthCmd.Flags().StringVar(&flagHealthURL, "url", "", "Worker base URL (default: the running shell's worker)")
	healthCmd.Flags().StringVar(&flagHealthToken, "token", "", "Auth token (default $"+protocol.EnvAuthToken+")")
}
