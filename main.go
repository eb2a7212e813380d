// Command davi-nfc-session runs an NFC session agent. It exposes an NFC
// session (filters, shared tag, tag discovery) to local clients over a
// WebSocket API, backed by a phone bridge or a libnfc reader.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dotside-studios/davi-nfc-session/buildinfo"
	"github.com/dotside-studios/davi-nfc-session/config"
	"github.com/dotside-studios/davi-nfc-session/logging"
	"github.com/dotside-studios/davi-nfc-session/nfc/libnfc"
	"github.com/dotside-studios/davi-nfc-session/store"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           buildinfo.Name,
		Short:         buildinfo.Description,
		Version:       buildinfo.FullVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTray(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default "+config.DefaultDir()+"/config.toml)")
	flags.Int("port", 0, "server port")
	flags.String("secret", "", "API secret required from clients")
	flags.Bool("mdns", true, "advertise the server over mDNS")
	flags.Bool("tls", false, "serve wss:// with a locally trusted certificate")
	flags.Int("bootstrap-port", 0, "port serving the CA certificate when TLS is on (0 disables)")
	flags.String("platform", "", "NFC platform: phone or libnfc")
	flags.String("device", "", "libnfc connection string (default: first reader)")
	flags.Duration("poll-interval", 0, "libnfc polling interval")
	flags.Bool("delivery-filtering", false, "drop tags that do not match the session filters")
	flags.String("db", "", "history database path")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(trayCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// setup loads and validates config and builds the logger.
func setup(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return config.Config{}, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent headless until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			agent := NewAgent(cfg, logger)
			if err := agent.Start(); err != nil {
				return err
			}
			defer agent.Stop()

			logger.Info("accepting connections", "url", agent.WebSocketURL())
			if url := agent.BootstrapURL(); url != "" {
				logger.Info("phones can install the CA from", "url", url)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			logger.Info("shutting down")
			return nil
		},
	}
}

func trayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tray",
		Short: "Run the agent with a system tray menu (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTray(cmd)
		},
	}
}

func runTray(cmd *cobra.Command) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	NewSystrayApp(NewAgent(cfg, logger), logger).Run()
	return nil
}

func historyCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recently discovered tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}

			s, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No tags recorded yet.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DISCOVERED\tTAG\tTECHNOLOGY\tTEXT")
			for _, e := range entries {
				tech := e.PrimaryTechnology
				if tech == "" && len(e.Techs) > 0 {
					tech = e.Techs[0]
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.DiscoveredAt.Local().Format("2006-01-02 15:04:05"),
					e.TagID, shortTech(tech), strings.Join(e.Texts, " | "))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// shortTech drops the package prefix of a technology name.
func shortTech(tech string) string {
	if i := strings.LastIndex(tech, "."); i >= 0 {
		return tech[i+1:]
	}
	return tech
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List attached libnfc readers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := libnfc.ListDevices()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(out, "No readers found.")
				return nil
			}
			for _, d := range devices {
				fmt.Fprintln(out, d)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.BuildInfo())
		},
	}
}
