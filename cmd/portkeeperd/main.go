// Command portkeeperd is the process entry point wrapping the
// protocol-agnostic mapping API in a Cobra command tree: serve keeps the
// orchestrator running and refreshing mappings in the background; probe,
// add, delete, list and caches are one-shot operations against a freshly
// constructed Manager, useful for scripting and debugging against a real
// router without standing up the full service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/openholepunch/portkeeper/config"
	"github.com/openholepunch/portkeeper/logging"
	"github.com/openholepunch/portkeeper/mapping"
	"github.com/openholepunch/portkeeper/metrics"
	"github.com/openholepunch/portkeeper/netcap"
)

func newManager() (*mapping.Manager, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logging.Get()
	met := metrics.New(prometheus.DefaultRegisterer)
	return mapping.New(netcap.NewReal(), log, met), cfg, nil
}

func main() {
	root := &cobra.Command{
		Use:   "portkeeperd",
		Short: "Opens and maintains inbound port forwardings via NAT-PMP, PCP or UPnP",
	}
	root.AddCommand(serveCmd(), probeCmd(), addCmd(), deleteCmd(), listCmd(), cachesCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the mapping orchestrator until interrupted, serving /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cfg, err := newManager()
			if err != nil {
				return err
			}
			log := logging.Get()

			httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("metrics server failed")
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			log.Info().Str("metricsAddr", cfg.MetricsAddr).Msg("portkeeperd started")
			<-sigCh

			log.Info().Msg("shutting down, tearing down active mappings")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
			mgr.Close()
			return nil
		},
	}
}

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Probe the gateway for NAT-PMP, PCP and UPnP support",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := newManager()
			if err != nil {
				return err
			}
			defer mgr.Close()
			natPmpOK, pcpOK, upnpOK := mgr.ProbeProtocolSupport(cmd.Context())
			fmt.Printf("natPmp=%v pcp=%v upnp=%v\n", natPmpOK, pcpOK, upnpOK)
			return nil
		},
	}
}

func addCmd() *cobra.Command {
	var lifetime uint32
	cmd := &cobra.Command{
		Use:   "add <internalPort> <externalPort>",
		Short: "Request a port forwarding",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cfg, err := newManager()
			if err != nil {
				return err
			}
			defer mgr.Close()
			internalPort, err := parsePort(args[0])
			if err != nil {
				return err
			}
			externalPort, err := parsePort(args[1])
			if err != nil {
				return err
			}
			if lifetime == 0 {
				lifetime = cfg.DefaultLifetimeSeconds
			}
			result := mgr.AddMapping(cmd.Context(), internalPort, externalPort, lifetime)
			if result.Failed() {
				return fmt.Errorf("add failed: %s", result.ErrInfo)
			}
			fmt.Printf("%+v\n", result)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&lifetime, "lifetime", 0, "requested lifetime in seconds (0 = use DEFAULT_LIFETIME_SECONDS)")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <externalPort>",
		Short: "Remove a port forwarding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := newManager()
			if err != nil {
				return err
			}
			defer mgr.Close()
			externalPort, err := parsePort(args[0])
			if err != nil {
				return err
			}
			if !mgr.DeleteMapping(cmd.Context(), externalPort) {
				return fmt.Errorf("no such mapping, or delete failed")
			}
			fmt.Println("deleted")
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active mappings (of this process's registry)",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := newManager()
			if err != nil {
				return err
			}
			defer mgr.Close()
			for port, m := range mgr.GetActiveMappings() {
				fmt.Printf("%d: %+v\n", port, m)
			}
			return nil
		},
	}
}

func cachesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "caches",
		Short: "Print the router-IP and protocol-support caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := newManager()
			if err != nil {
				return err
			}
			defer mgr.Close()
			fmt.Printf("routerIPs: %v\n", mgr.GetRouterIPCache())
			fmt.Printf("support: %+v\n", mgr.GetProtocolSupportCache())
			return nil
		},
	}
}

func parsePort(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	return uint16(v), nil
}
