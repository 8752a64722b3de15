// Command pureboot is PureBoot's entrypoint: a cobra root command wiring
// the HTTP API, TFTP server, Proxy-DHCP responder, health monitor,
// clone-session reconciler, and workflow execution engine behind the same
// serve/migrate subcommand split and viper-layered config the teacher's
// boot-service cmd/server/main.go uses.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mrveiss/pureboot/internal/api"
	"github.com/mrveiss/pureboot/internal/config"
	"github.com/mrveiss/pureboot/internal/store"
	"github.com/mrveiss/pureboot/pkg/bootscript"
	"github.com/mrveiss/pureboot/pkg/clonepki"
	"github.com/mrveiss/pureboot/pkg/clonesession"
	"github.com/mrveiss/pureboot/pkg/eventbus"
	"github.com/mrveiss/pureboot/pkg/health"
	"github.com/mrveiss/pureboot/pkg/proxydhcp"
	"github.com/mrveiss/pureboot/pkg/tftpserver"
	"github.com/mrveiss/pureboot/pkg/workflow"
	"github.com/mrveiss/pureboot/pkg/workfloweng"
)

// version is overridden at link time in release builds via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "pureboot",
	Short: "PureBoot network-boot provisioning controller",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the TFTP, Proxy-DHCP, and HTTP API servers",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE:  runMigrate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pureboot version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version)
		return nil
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.Int("port", 8080, "HTTP API port")
	flags.String("host", "0.0.0.0", "HTTP API bind address")
	flags.String("public_server", "", "hostname:port booting clients use to reach this controller")
	flags.Int("read_timeout", 30, "HTTP read timeout in seconds")
	flags.Int("write_timeout", 30, "HTTP write timeout in seconds")
	flags.Int("idle_timeout", 120, "HTTP idle timeout in seconds")

	flags.String("tftp_bind_addr", "0.0.0.0:69", "TFTP server bind address")
	flags.String("tftp_root", "./data/tftproot", "TFTP server file root")

	flags.Bool("proxy_dhcp_enabled", true, "enable the Proxy-DHCP responder")
	flags.String("proxy_dhcp_bind_addr", "0.0.0.0:4011", "Proxy-DHCP PXE listener bind address")
	flags.String("tftp_server_ip", "", "next-server IP stamped into Proxy-DHCP replies")

	flags.String("database_url", "./data/pureboot.db", "SQLite database path")
	flags.String("workflows_dir", "./data/workflows", "directory of workflow YAML descriptors")

	flags.Bool("auto_register", true, "auto-register unknown MACs/serials on first boot")
	flags.Int("install_timeout_minutes", 60, "minutes an installing node may go without a report before reclassifying")

	flags.Int("health_stale_minutes", 15, "minutes since last contact before a node is stale")
	flags.Int("health_offline_minutes", 60, "minutes since last contact before a node is offline")
	flags.Int("health_score_threshold", 50, "health score below which a low_health_score alert fires")
	flags.Int("snapshot_retention_days", 30, "days of health snapshots to retain")

	flags.String("ca_dir", "./data/ca", "directory holding the clone-session signing CA")
	flags.String("ca_key_algorithm", "rsa", "clone-session CA/leaf key algorithm: rsa or ecdsa")
	flags.String("session_cert_slack", "1h", "slack added to a clone session's expected lifetime for cert validity")

	migrateCmd.Flags().String("database_url", "./data/pureboot.db", "SQLite database path")

	rootCmd.AddCommand(serveCmd, migrateCmd, versionCmd)
}

func main() {
	v := viper.New()
	v.SetConfigName("pureboot")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/pureboot/")
	v.AddConfigPath("$HOME/.pureboot")

	if err := v.BindPFlags(serveCmd.Flags()); err != nil {
		log.Fatalf("bind flags: %v", err)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("pureboot: error reading config file: %v", err)
		}
	}

	rootCmd.SetContext(contextWithViper(context.Background(), v))
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

type viperKey struct{}

func contextWithViper(ctx context.Context, v *viper.Viper) context.Context {
	return context.WithValue(ctx, viperKey{}, v)
}

func viperFromContext(ctx context.Context) *viper.Viper {
	v, _ := ctx.Value(viperKey{}).(*viper.Viper)
	if v == nil {
		v = viper.New()
	}
	return v
}

func runMigrate(cmd *cobra.Command, args []string) error {
	v := viperFromContext(cmd.Context())
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	dsn := v.GetString("database_url")
	if dsn == "" {
		dsn = "./data/pureboot.db"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// store.Open runs every pending migration as part of opening the
	// database; there is no separate apply step to invoke.
	st, err := store.Open(ctx, dsn, nil)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer st.Close()

	log.Printf("pureboot: migrations applied against %s", dsn)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viperFromContext(cmd.Context()))
	if err != nil {
		return err
	}

	log.Printf("pureboot: starting with HTTP %s:%d, TFTP %s, proxy-DHCP enabled=%v",
		cfg.Host, cfg.Port, cfg.TFTPBindAddr, cfg.ProxyDHCPEnabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := eventbus.New()

	st, err := store.Open(ctx, cfg.DatabaseURL, bus)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	catalog, err := workflow.NewCatalog(cfg.WorkflowsDir)
	if err != nil {
		return fmt.Errorf("load workflow catalog: %w", err)
	}
	cache := workflow.NewResolvedCache(time.Minute)

	bootCfg := bootscript.Config{
		Server:         cfg.PublicServerAddr(),
		AutoRegister:   cfg.AutoRegister,
		InstallTimeout: cfg.InstallTimeout(),
	}
	engineLogger := log.New(os.Stdout, "workfloweng: ", log.LstdFlags)
	engine := workfloweng.New(st, catalog, engineLogger)
	if err := engine.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuild workflow engine state: %w", err)
	}

	boot := bootscript.New(st, catalog, cache, engine, bootCfg)

	caAlgorithm := clonepki.KeyAlgorithmRSA
	if cfg.CAKeyAlgorithm == "ecdsa" {
		caAlgorithm = clonepki.KeyAlgorithmECDSA
	}
	ca, err := clonepki.NewOrLoad(cfg.CADir, caAlgorithm)
	if err != nil {
		return fmt.Errorf("load clone-session CA: %w", err)
	}

	cloneLogger := log.New(os.Stdout, "clonesession: ", log.LstdFlags)
	clone := clonesession.New(st, ca, clonesession.Config{
		KeyAlgorithm:     caAlgorithm,
		ExpectedLifetime: cfg.InstallTimeout(),
		StallTimeout:     cfg.InstallTimeout(),
		ReconcileEvery:   time.Minute,
	}, cloneLogger)
	go clone.Run(ctx)

	healthLogger := log.New(os.Stdout, "health: ", log.LstdFlags)
	healthCfg := health.DefaultConfig()
	healthCfg.Thresholds = health.Thresholds{
		StaleAfter:     time.Duration(cfg.HealthStaleMinutes) * time.Minute,
		OfflineAfter:   time.Duration(cfg.HealthOfflineMinutes) * time.Minute,
		ScoreThreshold: cfg.HealthScoreThreshold,
	}
	healthCfg.SnapshotRetention = time.Duration(cfg.SnapshotRetentionDays) * 24 * time.Hour
	monitor := health.New(st, healthCfg, healthLogger)
	go monitor.Run(ctx)

	if cfg.ProxyDHCPEnabled {
		dhcpLogger := log.New(os.Stdout, "proxydhcp: ", log.LstdFlags)
		dhcpCfg := proxydhcp.Config{
			ListenAddr4011: cfg.ProxyDHCPBindAddr,
			ServerIP:       net.ParseIP(cfg.TFTPServerIP),
		}
		responder := proxydhcp.New(dhcpCfg, dhcpLogger)
		go func() {
			if err := responder.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("proxydhcp: exited: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			responder.Close()
		}()
	}

	tftpLogger := log.New(os.Stdout, "tftpserver: ", log.LstdFlags)
	tftp := tftpserver.New(tftpserver.Config{BindAddr: cfg.TFTPBindAddr, Root: cfg.TFTPRoot}, tftpLogger)
	go func() {
		if err := tftp.ListenAndServe(); err != nil {
			log.Printf("tftpserver: exited: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		tftp.Shutdown()
	}()

	apiLogger := log.New(os.Stdout, "api: ", log.LstdFlags)
	router := api.NewRouter(api.Deps{
		Store:      st,
		Boot:       boot,
		Catalog:    catalog,
		Clone:      clone,
		Engine:     engine,
		Thresholds: healthCfg.Thresholds,
		Logger:     apiLogger,
	}, time.Duration(cfg.ReadTimeout)*time.Second)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeout) * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("pureboot: shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("pureboot: HTTP server shutdown error: %v", err)
		}
		cancel()
	}()

	log.Printf("pureboot: HTTP API listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	<-ctx.Done()
	log.Println("pureboot: stopped")
	return nil
}
