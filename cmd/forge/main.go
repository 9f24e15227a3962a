//go:build !test

// Code coverage for main is ignored for now. TODO: Add integration tests for main entrypoint.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/forge/internal/allocator"
	"github.com/jbweber/homelab/forge/internal/api"
	"github.com/jbweber/homelab/forge/internal/bootcfg"
	"github.com/jbweber/homelab/forge/internal/config"
	"github.com/jbweber/homelab/forge/internal/datastore"
	"github.com/jbweber/homelab/forge/internal/dhcpexport"
	"github.com/jbweber/homelab/forge/internal/discovery"
	"github.com/jbweber/homelab/forge/internal/domain"
	"github.com/jbweber/homelab/forge/internal/gateway"
	"github.com/jbweber/homelab/forge/internal/orchestrator"
	"github.com/jbweber/homelab/forge/internal/registry"
	"github.com/jbweber/homelab/forge/internal/repository"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "forge",
		Short: "Bare-metal provisioning orchestrator for the homelab management network",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "forge.yaml", "path to configuration file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ds, err := datastore.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer ds.Close()
			fmt.Println("migrations applied")
			return nil
		},
	})

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("forge: %v", err)
	}
}

func serve(cfg *config.Config) error {
	ds, err := datastore.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize datastore: %w", err)
	}
	defer ds.Close()

	hostRepo := repository.NewHostRepository(ds.DB)
	leaseRepo := repository.NewLeaseRepository(ds.DB)
	profileRepo := repository.NewProfileRepository(ds.DB)
	attemptRepo := repository.NewAttemptRepository(ds.DB)
	auditRepo := repository.NewAuditRepository(ds.DB)

	reg := registry.New(hostRepo, auditRepo)

	alloc, err := allocator.New(cfg.Network, leaseRepo)
	if err != nil {
		return fmt.Errorf("failed to initialize allocator: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := alloc.Reconcile(ctx); err != nil {
		return fmt.Errorf("failed to reconcile lease table: %w", err)
	}

	fw, err := gateway.NewFirewall()
	if err != nil {
		return fmt.Errorf("failed to initialize firewall: %w", err)
	}
	gw := gateway.New(fw, nil)

	// Bring the data path up with the configured defaults; operators can
	// change it at runtime through the control API.
	startupPolicy := domain.RoutePolicy{
		SubnetCIDR: cfg.Network.SubnetCIDR,
		Uplink:     cfg.Network.Uplink,
		Enabled:    cfg.Network.Uplink != "",
	}
	if err := gw.Apply(startupPolicy); err != nil {
		log.Printf("warning: startup route policy not applied: %v", err)
	}

	orch := orchestrator.New(orchestrator.Deps{
		Registry:  reg,
		Allocator: alloc,
		Profiles:  profileRepo,
		Attempts:  attemptRepo,
		Renderer:  bootcfg.NewRenderer(),
		Publisher: bootcfg.NewPublisher(cfg.Boot.TFTPRoot),
		Exporter:  dhcpexport.New(cfg.Network),
	}, cfg.Install, cfg.Boot.DefaultProfile)

	orch.Start(ctx)
	defer orch.Stop()

	watcher := discovery.NewWatcher(cfg.Network.DNSMasq.LeasesFile, orch)
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to start lease watcher: %w", err)
	}
	defer watcher.Stop()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	apiHandlers := api.NewAPI(reg, orch, profileRepo, gw)
	apiHandlers.RegisterRoutes(r)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintln(w, "forge is running"); err != nil {
			log.Printf("failed to write response: %v", err)
		}
	})

	srv := &http.Server{Addr: cfg.Listen, Handler: r}
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("forge listening on %s", cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
