// Package main is the entrypoint for the Strongbox agent CLI.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	agentclient "github.com/MacJediWizard/strongbox/internal/agent"
	"github.com/MacJediWizard/strongbox/internal/config"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow)
	dimColor  = color.New(color.Faint)
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "strongbox-agent",
		Short: "Strongbox backup agent",
		Long: `Strongbox Agent runs scheduled and on-demand backups and uploads
them to a Strongbox server.

Run 'strongbox-agent register' to connect to a server.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.strongbox/config.yml)")

	paths := &agentPaths{flag: &configPath}
	rootCmd.AddCommand(
		newVersionCmd(),
		newRegisterCmd(paths),
		newConfigCmd(paths),
		newItemsCmd(paths),
		newStatusCmd(paths),
		newBackupCmd(paths),
		newStartCmd(paths),
	)

	return rootCmd
}

// agentPaths resolves the config file and the directory holding the item store.
type agentPaths struct {
	flag *string
}

func (p *agentPaths) configFile() (string, error) {
	if *p.flag != "" {
		return *p.flag, nil
	}
	return config.DefaultConfigPath()
}

func (p *agentPaths) dataDir() (string, error) {
	path, err := p.configFile()
	if err != nil {
		return "", err
	}
	return filepath.Dir(path), nil
}

func (p *agentPaths) load() (*config.AgentConfig, error) {
	path, err := p.configFile()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (p *agentPaths) save(cfg *config.AgentConfig) error {
	path, err := p.configFile()
	if err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

func newLogger(level string) zerolog.Logger {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Strongbox Agent %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func validateServerURL(serverURL string) (string, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" || parsed.Host == "" {
		return "", errors.New("server URL must use http or https scheme")
	}
	return strings.TrimSuffix(serverURL, "/"), nil
}

func newRegisterCmd(paths *agentPaths) *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register this agent with a Strongbox server",
		Long: `Register this agent with a Strongbox server.

You will be prompted for the API key returned when the client was created
on the server (POST /api/v1/clients).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(cmd.Context(), paths, serverURL)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Strongbox server URL (required)")
	_ = cmd.MarkFlagRequired("server")

	return cmd
}

func runRegister(ctx context.Context, paths *agentPaths, serverURL string) error {
	serverURL, err := validateServerURL(serverURL)
	if err != nil {
		return err
	}

	fmt.Print("Enter API key: ")
	apiKey, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && apiKey == "" {
		return fmt.Errorf("read API key: %w", err)
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return errors.New("API key cannot be empty")
	}

	// The key is checked against the server before it is saved.
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	info, err := agentclient.NewClient(serverURL, apiKey).WhoAmI(ctx)
	if err != nil {
		if agentclient.IsStatus(err, http.StatusUnauthorized) {
			return errors.New("the server rejected the API key")
		}
		return err
	}

	cfg, err := paths.load()
	if err != nil {
		return err
	}
	cfg.ServerURL = serverURL
	cfg.APIKey = apiKey
	cfg.ClientID = info.ID
	cfg.ClientName = info.Name
	if hostname, err := os.Hostname(); err == nil && cfg.Hostname == "" {
		cfg.Hostname = hostname
	}
	if err := paths.save(cfg); err != nil {
		return err
	}

	configPath, _ := paths.configFile()
	fmt.Printf("Configuration saved to %s\n", configPath)
	fmt.Printf("Registered as %s (%s)\n", okColor.Sprint(info.Name), info.ID)
	fmt.Println("Add backups with 'strongbox-agent items add', then run 'strongbox-agent start'.")
	return nil
}

func newConfigCmd(paths *agentPaths) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage agent configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show current configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := paths.load()
				if err != nil {
					return err
				}

				configPath, _ := paths.configFile()
				fmt.Printf("Config file: %s\n\n", configPath)

				if !cfg.IsConfigured() {
					fmt.Println("Agent is not configured. Run 'strongbox-agent register' to set up.")
					return nil
				}

				fmt.Printf("Server URL:  %s\n", cfg.ServerURL)
				fmt.Printf("API Key:     %s\n", maskAPIKey(cfg.APIKey))
				if cfg.ClientID != "" {
					fmt.Printf("Client:      %s (%s)\n", cfg.ClientName, cfg.ClientID)
				}
				if cfg.Hostname != "" {
					fmt.Printf("Hostname:    %s\n", cfg.Hostname)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "set-server <url>",
			Short: "Set the server URL",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				serverURL, err := validateServerURL(args[0])
				if err != nil {
					return err
				}
				cfg, err := paths.load()
				if err != nil {
					return err
				}
				cfg.ServerURL = serverURL
				if err := paths.save(cfg); err != nil {
					return err
				}
				fmt.Printf("Server URL set to: %s\n", cfg.ServerURL)
				return nil
			},
		},
	)

	return cmd
}

func maskAPIKey(key string) string {
	if len(key) <= 12 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + strings.Repeat("*", 8) + key[len(key)-4:]
}

func newStatusCmd(paths *agentPaths) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server connection and backup status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := paths.load()
			if err != nil {
				return err
			}
			if !cfg.IsConfigured() {
				fmt.Println("Status: " + warnColor.Sprint("Not configured"))
				fmt.Println("Run 'strongbox-agent register' to connect to a server.")
				return nil
			}

			fmt.Printf("Server:   %s\n", cfg.ServerURL)
			if cfg.ClientName != "" {
				fmt.Printf("Client:   %s\n", cfg.ClientName)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if _, err := agentclient.NewClient(cfg.ServerURL, cfg.APIKey).WhoAmI(ctx); err != nil {
				fmt.Printf("Connection: %s (%v)\n", failColor.Sprint("Error"), err)
			} else {
				fmt.Printf("Connection: %s\n", okColor.Sprint("Online"))
			}
			fmt.Println()

			return printItemStatus(cmd.Context(), paths)
		},
	}
}
