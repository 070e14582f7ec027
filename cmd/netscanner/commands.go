package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"netscanner/internal/config"
	"netscanner/internal/scan"
	"netscanner/internal/server"
	"netscanner/internal/vendor"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "netscanner",
		Short: "LAN device discovery",
		Long: `Netscanner finds devices on the local /24 by sweeping every host address
and listening for mDNS/DNS-SD service announcements at the same time, then
merges both views into one device list keyed by IP address.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().String("config", "", "Path to a netscanner.yaml config file")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "Log format (console, json)")

	root.AddCommand(newScanCmd(), newServeCmd(), newVendorCmd(), newVersionCmd())
	return root
}

// loadConfig reads the config file and environment, then applies any flags the
// user set explicitly.
func loadConfig(cmd *cobra.Command, bindings map[string]string) (config.Config, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	v, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}

	bindings["logging.level"] = "log-level"
	bindings["logging.format"] = "log-format"
	for key, flag := range bindings {
		if err := bindChanged(v, cmd, key, flag); err != nil {
			return config.Config{}, nil, err
		}
	}

	cfg, err := config.Decode(v)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func bindChanged(v *viper.Viper, cmd *cobra.Command, key, flag string) error {
	f := cmd.Flags().Lookup(flag)
	if f == nil || !f.Changed {
		return nil
	}
	return v.BindPFlag(key, f)
}

func newScanCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan and print the discovered devices",
		Example: `  # Scan the local subnet with the default 10s discovery window
  netscanner scan

  # Scan a specific /24 and print JSON
  netscanner scan --subnet 192.168.10.0/24 --json

  # Listen for service announcements a little longer
  netscanner scan --timeout 20s`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, map[string]string{
				"scan.subnet":            "subnet",
				"scan.discovery_timeout": "timeout",
				"scan.privileged":        "privileged",
			})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			coordinator, err := scan.NewDefault(cfg.Scan, logger, nil)
			if err != nil {
				return err
			}
			defer coordinator.Close()

			if _, err := coordinator.Start(ctx, nil); err != nil {
				return err
			}
			snapshot, err := coordinator.Wait(ctx)
			if err != nil {
				logger.Warn("scan interrupted", zap.Error(err))
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snapshot)
			}
			return printDevices(cmd, snapshot)
		},
	}
	cmd.Flags().String("subnet", "", "Subnet to sweep (a.b.c, a.b.c.d or a.b.c.0/24)")
	cmd.Flags().Duration("timeout", 10*time.Second, "How long to listen for service announcements")
	cmd.Flags().Bool("privileged", false, "Use raw ICMP sockets")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the final snapshot as JSON")
	return cmd
}

func printDevices(cmd *cobra.Command, snapshot scan.Snapshot) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IP\tHOSTNAME\tMAC\tVENDOR\tSOURCES\tSERVICES")
	for _, d := range snapshot.Devices {
		services := make([]string, 0, len(d.Services))
		for _, s := range d.Services {
			services = append(services, fmt.Sprintf("%s/%d", s.Type, s.Port))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.IPAddress, orDash(d.Hostname), orDash(d.MACAddress), orDash(d.Vendor),
			d.DiscoveryMethods, orDash(strings.Join(services, ", ")))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d devices, state %s\n", len(snapshot.Devices), snapshot.State)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve scan control, snapshots and metrics over HTTP",
		Long: `Start an HTTP server exposing:

  POST /scan/start   start (or restart) a scan
  POST /scan/stop    stop service discovery for the current scan
  GET  /snapshot     current state, active sources and devices
  GET  /export       the snapshot as a downloadable JSON file
  GET  /events       websocket stream of snapshots
  GET  /metrics      Prometheus metrics`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, map[string]string{"server.addr": "addr"})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			metrics := scan.NewMetrics(reg)

			coordinator, err := scan.NewDefault(cfg.Scan, logger, metrics)
			if err != nil {
				return err
			}
			defer coordinator.Close()

			srv := server.New(ctx, coordinator, reg, logger.Named("server"))
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe(cfg.Server.Addr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default from config, 127.0.0.1:8787)")
	return cmd
}

func newVendorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vendor <mac>...",
		Short: "Look up the manufacturer for hardware addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := vendor.Default()
			for _, mac := range args {
				name := resolver.Lookup(mac)
				if name == "" {
					name = "unknown"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", mac, name)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "netscanner %s\n", version)
		},
	}
}
