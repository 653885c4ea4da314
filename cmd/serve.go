package cmd

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"portal/internal/config"
	"portal/internal/gateway"
	"portal/internal/hasher"
	"portal/internal/localstore"
	"portal/internal/server"
	"portal/internal/session"
	"portal/internal/storage"
)

const (
	colorReset      = "\033[0m"
	colorLightGreen = "\033[92m"
	colorYellow     = "\033[33m"
)

var version = "dev" // Overridden at build time

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the account HTTP server",
	Long:  `Start the HTTP server serving signup, login, session identity and the admin API`,
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":3000", "HTTP listen address")
	serveCmd.Flags().String("static-dir", "", "Directory of static site pages")
	viperBind("http.addr", serveCmd.Flags().Lookup("addr"))
	viperBind("http.static_dir", serveCmd.Flags().Lookup("static-dir"))
}

func printBanner() {
	banner := `
    ____             __        __
   / __ \____  _____/ /_____ _/ /
  / /_/ / __ \/ ___/ __/ __ '/ /
 / ____/ /_/ / /  / /_/ /_/ / /
/_/    \____/_/   \__/\__,_/_/
`
	fmt.Printf("%s%s%s", colorLightGreen, banner, colorReset)
	fmt.Printf("%sVersion: %s%s\n", colorYellow, version, colorReset)
	fmt.Printf("%sAccount Server%s\n\n", colorLightGreen, colorReset)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, log, err := loadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	printBanner()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create directory %s: %v", cfg.DataDir, err)
	}
	log.Infof("Data directory initialized at: %s", cfg.DataDir)

	primary, err := openPrimary(cfg, log)
	if err != nil {
		log.Fatalf("Failed to open account store: %v", err)
	}
	defer primary.Close()

	if err := primary.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}
	if err := bootstrapAdmin(primary, cfg, log); err != nil {
		log.Fatalf("Failed to bootstrap admin account: %v", err)
	}

	// Left nil unless enabled so the gateway sees no fallback at all.
	var fallback storage.AccountStore
	if cfg.Local.Enabled {
		kv, err := openLocalKV(cfg.Local)
		if err != nil {
			log.Fatalf("Failed to open local fallback store: %v", err)
		}
		defer kv.Close()
		fallback = localstore.New(kv, localstore.Options{
			AdminPassword: cfg.Auth.AdminPassword,
			Iterations:    cfg.Local.Iterations,
			Logger:        log,
		})
		log.Infof("Local fallback store enabled (%s)", cfg.Local.Backend)
	} else {
		log.Warn("Local fallback store disabled - account store outages will fail requests")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := server.NewMetrics(registry)

	gw := gateway.New(primary, fallback, gateway.Options{
		Timeout:  cfg.DB.Timeout,
		Logger:   log,
		Recorder: metrics,
	})

	sessions, err := newSessionManager(cfg.Auth, log)
	if err != nil {
		log.Fatalf("Failed to initialise sessions: %v", err)
	}

	server.Version = version
	srv := server.New(&server.Config{
		Addr:         cfg.HTTP.Addr,
		StaticDir:    cfg.HTTP.StaticDir,
		DataDir:      cfg.DataDir,
		Gateway:      gw,
		Sessions:     sessions,
		Registry:     registry,
		Metrics:      metrics,
		Logger:       log,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	})
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Received shutdown signal...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Error during shutdown")
	}
}

func storeOptions(cfg *config.Config, log *logrus.Logger) storage.Options {
	return storage.Options{
		AdminPassword: cfg.Auth.AdminPassword,
		Hasher:        hasher.NewBcrypt(cfg.Auth.BcryptCost),
		Logger:        log,
	}
}

// openPrimary connects the authoritative store: PostgreSQL when a host is
// configured, retried with exponential backoff, SQLite in the data dir
// otherwise.
func openPrimary(cfg *config.Config, log *logrus.Logger) (*storage.SQLStore, error) {
	opts := storeOptions(cfg, log)
	if !cfg.DB.UsePostgres() {
		log.Infof("Running in SQLite mode: %s", cfg.DB.Path)
		return storage.NewSQLiteStore(cfg.DB.Path, opts)
	}

	dbCfg := &storage.Config{
		Host:           cfg.DB.Host,
		Port:           cfg.DB.Port,
		User:           cfg.DB.User,
		Password:       cfg.DB.Password,
		DBName:         cfg.DB.Name,
		SSLMode:        cfg.DB.SSLMode,
		ConnectTimeout: connectTimeoutSeconds(cfg.DB.Timeout),
	}

	var store *storage.SQLStore
	var err error
	maxRetries := cfg.DB.ConnectRetries
	for i := 0; i < maxRetries; i++ {
		store, err = storage.NewPostgresStore(dbCfg, opts)
		if err == nil {
			break
		}

		if i < maxRetries-1 {
			waitTime := time.Duration(1<<uint(i)) * time.Second // Exponential: 1s, 2s, 4s, 8s...
			log.WithError(err).Warnf("Database connection failed (attempt %d/%d), retrying in %s", i+1, maxRetries, waitTime)
			time.Sleep(waitTime)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
	}

	log.Infof("Connected to PostgreSQL at %s:%d", cfg.DB.Host, cfg.DB.Port)
	return store, nil
}

func connectTimeoutSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func bootstrapAdmin(store *storage.SQLStore, cfg *config.Config, log *logrus.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := store.EnsureAdmin(ctx); err != nil {
		return err
	}

	if cfg.Auth.AdminPassword == config.DefaultAdminPassword {
		log.Warn("Admin account uses the default bootstrap password - set auth.admin_password")
	}
	log.Info("Admin account ensured")
	return nil
}

func openLocalKV(cfg config.LocalConfig) (localstore.KV, error) {
	if cfg.Backend == "redis" {
		return localstore.NewRedisKV(cfg.RedisURL, cfg.RedisPrefix)
	}
	return localstore.OpenSQLiteKV(cfg.Path)
}

func newSessionManager(cfg config.AuthConfig, log *logrus.Logger) (*session.Manager, error) {
	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		log.Warn("No session secret configured - using a random per-process signing key")
	}
	return session.NewManager(session.Config{
		Secret:      secret,
		TTL:         cfg.SessionTTL,
		MaxSessions: cfg.MaxSessions,
		Secure:      cfg.SecureCookie,
	})
}
