package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"

	"entitle-pg-backend/internal/application/services"
	"entitle-pg-backend/internal/config"
	"entitle-pg-backend/internal/domain/ports"
	"entitle-pg-backend/internal/infrastructure/repositories/mem"
	"entitle-pg-backend/internal/infrastructure/repositories/pg"
)

var (
	configPath   string
	pgURI        string
	memoryDB     bool
	manifestPath string
	gracePeriod  int
)

func main() {
	root := &cobra.Command{
		Use:          "entitle-pg-backend",
		Short:        "Entitlement refresh backend",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to configuration file")
	root.PersistentFlags().StringVar(&pgURI, "pg-uri", "", "PostgreSQL connection URI (overrides config)")
	root.PersistentFlags().BoolVar(&memoryDB, "memory", false, "use the in-memory store")

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Run a reconciliation for an owner from a JSON manifest",
		RunE:  runRefresh,
	}
	refreshCmd.Flags().StringVar(&manifestPath, "manifest", "", "path to the refresh manifest (required)")
	refreshCmd.Flags().IntVar(&gracePeriod, "grace-period", -999, "orphan grace period in days (overrides config)")
	_ = refreshCmd.MarkFlagRequired("manifest")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE:  runMigrate,
	}

	root.AddCommand(refreshCmd, migrateCmd)

	if err := root.Execute(); err != nil {
		klog.Errorf("Command failed: %v", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return nil, err
	}

	if pgURI != "" {
		cfg.Storage.PGURI = pgURI
	}
	if memoryDB {
		cfg.Storage.Memory = true
	}

	return cfg, cfg.Validate()
}

func newRegistry(ctx context.Context, cfg *config.Config) (ports.Registry, error) {
	if cfg.Storage.Memory {
		return mem.NewRegistry(), nil
	}
	return pg.NewRegistryFromURI(ctx, cfg.Storage.PGURI)
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return errors.Wrapf(err, "reading manifest %s", manifestPath)
	}

	req := &services.RefreshRequest{}
	if err := json.Unmarshal(data, req); err != nil {
		return errors.Wrapf(err, "decoding manifest %s", manifestPath)
	}

	registry, err := newRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	days := cfg.Refresh.OrphanGracePeriodDays
	if gracePeriod != -999 {
		days = gracePeriod
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Refresh.RatePerSecond), cfg.Refresh.RateBurst)
	refresher := services.NewRefresherService(registry, limiter, days)

	result, err := refresher.Refresh(ctx, req)
	if err != nil {
		return err
	}

	klog.Infof("Refresh complete: pools %s, products %s, content %s",
		result.PoolCounts(), result.ProductCounts(), result.ContentCounts())
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Storage.Memory {
		return errors.New("the in-memory store has no migrations")
	}

	return pg.RunMigrations(cmd.Context(), cfg.Storage.PGURI)
}
