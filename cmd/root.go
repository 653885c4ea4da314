package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"portal/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "Account signup, login and administration service",
	Long: `Portal serves the account subsystem of a website:
- Signup, login, logout and session identity over HTTP
- Admin-only account listing and soft delete with permanent username blocking
- PostgreSQL or SQLite account store with a local fallback store
- A command-line client that falls back to a local store when the server is down`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./portal.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "./data", "Base data directory")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("admin-password", config.DefaultAdminPassword, "Bootstrap credential of the admin account")

	// Database flags (PostgreSQL - if not set, SQLite is used)
	rootCmd.PersistentFlags().String("db-host", "", "PostgreSQL host (if empty, uses SQLite)")
	rootCmd.PersistentFlags().Int("db-port", 5432, "PostgreSQL port")
	rootCmd.PersistentFlags().String("db-user", "portal", "PostgreSQL user")
	rootCmd.PersistentFlags().String("db-password", "", "PostgreSQL password")
	rootCmd.PersistentFlags().String("db-name", "portal", "PostgreSQL database name")
	rootCmd.PersistentFlags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	rootCmd.PersistentFlags().Duration("db-timeout", config.DefaultDBTimeout, "Account store call timeout before falling back")

	// Bind flags to viper
	viperBind("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viperBind("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viperBind("auth.admin_password", rootCmd.PersistentFlags().Lookup("admin-password"))
	viperBind("db.host", rootCmd.PersistentFlags().Lookup("db-host"))
	viperBind("db.port", rootCmd.PersistentFlags().Lookup("db-port"))
	viperBind("db.user", rootCmd.PersistentFlags().Lookup("db-user"))
	viperBind("db.password", rootCmd.PersistentFlags().Lookup("db-password"))
	viperBind("db.name", rootCmd.PersistentFlags().Lookup("db-name"))
	viperBind("db.sslmode", rootCmd.PersistentFlags().Lookup("db-sslmode"))
	viperBind("db.timeout", rootCmd.PersistentFlags().Lookup("db-timeout"))
}

func viperBind(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/portal/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("portal")
	}

	viper.SetEnvPrefix("PORTAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig decodes the merged configuration and builds the logger.
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg.Log), nil
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	return log
}
