package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/scryptex-labs/texledger/internal/httpserver"
	"github.com/scryptex-labs/texledger/internal/store/gormstore"
	"github.com/scryptex-labs/texledger/pkg/ledger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL     = "database-url"
	flagListenAddr      = "listen-addr"
	flagSigningKey      = "session-signing-key"
	flagSessionIssuer   = "session-issuer"
	flagSessionCookie   = "session-cookie"
	flagAllowedOrigins  = "allowed-origins"
	configKeyDatabase   = "database_url"
	configKeyListenAddr = "listen_addr"
	configKeySigningKey = "session_signing_key"
	configKeyIssuer     = "session_issuer"
	configKeyCookie     = "session_cookie"
	configKeyOrigins    = "allowed_origins"
	defaultDatabaseURL  = "sqlite:///tmp/texledger.db"
	defaultListenAddr   = ":8080"
)

type runtimeConfig struct {
	DatabaseURL string
	Server      httpserver.Config
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "texledgerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "texledgerd",
		Short:         "TEX credit ledger and referral attribution API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagSigningKey, "", "HMAC key validating session tokens")
	cmd.Flags().String(flagSessionIssuer, "", "expected session token issuer")
	cmd.Flags().String(flagSessionCookie, "", "session cookie name")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated CORS origins")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabase:   "DATABASE_URL",
		configKeyListenAddr: "HTTP_LISTEN_ADDR",
		configKeySigningKey: "SESSION_SIGNING_KEY",
		configKeyIssuer:     "SESSION_ISSUER",
		configKeyCookie:     "SESSION_COOKIE",
		configKeyOrigins:    "ALLOWED_ORIGINS",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}
	flags := map[string]string{
		configKeyDatabase:   flagDatabaseURL,
		configKeyListenAddr: flagListenAddr,
		configKeySigningKey: flagSigningKey,
		configKeyIssuer:     flagSessionIssuer,
		configKeyCookie:     flagSessionCookie,
		configKeyOrigins:    flagAllowedOrigins,
	}
	for key, flag := range flags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabase)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.Server = httpserver.Config{
		ListenAddr:        viper.GetString(configKeyListenAddr),
		SessionSigningKey: viper.GetString(configKeySigningKey),
		SessionIssuer:     viper.GetString(configKeyIssuer),
		SessionCookieName: viper.GetString(configKeyCookie),
		AllowedOrigins:    httpserver.ParseAllowedOrigins(viper.GetString(configKeyOrigins)),
	}
	return cfg.Server.Validate()
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := ledger.NewService(store, clock,
		ledger.WithOperationLogger(httpserver.NewOperationRecorder(logger)),
	)
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	gate, err := ledger.NewCostGate(service)
	if err != nil {
		return fmt.Errorf("cost gate init: %w", err)
	}

	return httpserver.Run(ctx, cfg.Server, logger, service, gate)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "texledger.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
