package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/quietlibrary/tracker/internal/auth"
	"github.com/quietlibrary/tracker/internal/mpesa"
	"github.com/quietlibrary/tracker/internal/store/gormstore"
	"github.com/quietlibrary/tracker/internal/store/pgstore"
	"github.com/quietlibrary/tracker/internal/webapi"
	"github.com/quietlibrary/tracker/pkg/library"
)

const (
	flagDatabaseURL          = "database-url"
	flagStoreBackend         = "store-backend"
	flagListenAddr           = "listen-addr"
	flagAllowedOrigins       = "allowed-origins"
	flagTokenSigningKey      = "token-signing-key"
	flagTokenTTL             = "token-ttl"
	flagBootstrapAdminUser   = "bootstrap-admin-username"
	flagBootstrapAdminPass   = "bootstrap-admin-password"
	flagMpesaBaseURL         = "mpesa-base-url"
	flagMpesaConsumerKey     = "mpesa-consumer-key"
	flagMpesaConsumerSecret  = "mpesa-consumer-secret"
	flagMpesaShortcode       = "mpesa-shortcode"
	flagMpesaPasskey         = "mpesa-passkey"
	flagMpesaCallbackURL     = "mpesa-callback-url"
	configKeyDatabaseURL     = "database_url"
	configKeyStoreBackend    = "store_backend"
	configKeyListenAddr      = "listen_addr"
	configKeyAllowedOrigins  = "allowed_origins"
	configKeyTokenSigningKey = "token_signing_key"
	configKeyTokenTTL        = "token_ttl"
	configKeyBootstrapUser   = "bootstrap_admin_username"
	configKeyBootstrapPass   = "bootstrap_admin_password"
	configKeyMpesaBaseURL    = "mpesa_base_url"
	configKeyMpesaKey        = "mpesa_consumer_key"
	configKeyMpesaSecret     = "mpesa_consumer_secret"
	configKeyMpesaShortcode  = "mpesa_shortcode"
	configKeyMpesaPasskey    = "mpesa_passkey"
	configKeyMpesaCallback   = "mpesa_callback_url"
	defaultDatabaseURL       = "sqlite:///tmp/tracker.db"
	defaultListenAddr        = ":8080"
	defaultMpesaBaseURL      = "https://sandbox.safaricom.co.ke"

	backendAuto = "auto"
	backendGorm = "gorm"
	backendPgx  = "pgx"
)

type runtimeConfig struct {
	DatabaseURL            string
	StoreBackend           string
	ListenAddr             string
	AllowedOrigins         string
	TokenSigningKey        string
	TokenTTL               time.Duration
	BootstrapAdminUsername string
	BootstrapAdminPassword string
	Mpesa                  mpesa.Config
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "trackerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "trackerd",
		Short:         "Library and bookstore HTTP server",
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

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL connection string or sqlite path")
	cmd.Flags().String(flagStoreBackend, backendAuto, "persistence backend: auto, gorm or pgx")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-delimited CORS origins")
	cmd.Flags().String(flagTokenSigningKey, "", "HMAC key for login tokens")
	cmd.Flags().Duration(flagTokenTTL, 24*time.Hour, "login token lifetime")
	cmd.Flags().String(flagBootstrapAdminUser, "", "seed super admin username when the user table is empty")
	cmd.Flags().String(flagBootstrapAdminPass, "", "seed super admin password")
	cmd.Flags().String(flagMpesaBaseURL, defaultMpesaBaseURL, "Daraja API base URL")
	cmd.Flags().String(flagMpesaConsumerKey, "", "Daraja consumer key")
	cmd.Flags().String(flagMpesaConsumerSecret, "", "Daraja consumer secret")
	cmd.Flags().String(flagMpesaShortcode, "", "Lipa Na M-Pesa shortcode")
	cmd.Flags().String(flagMpesaPasskey, "", "Lipa Na M-Pesa passkey")
	cmd.Flags().String(flagMpesaCallbackURL, "", "public URL for provider callbacks")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := []struct {
		configKey string
		envName   string
		flagName  string
	}{
		{configKeyDatabaseURL, "DATABASE_URL", flagDatabaseURL},
		{configKeyStoreBackend, "STORE_BACKEND", flagStoreBackend},
		{configKeyListenAddr, "LISTEN_ADDR", flagListenAddr},
		{configKeyAllowedOrigins, "ALLOWED_ORIGINS", flagAllowedOrigins},
		{configKeyTokenSigningKey, "TOKEN_SIGNING_KEY", flagTokenSigningKey},
		{configKeyTokenTTL, "TOKEN_TTL", flagTokenTTL},
		{configKeyBootstrapUser, "BOOTSTRAP_ADMIN_USERNAME", flagBootstrapAdminUser},
		{configKeyBootstrapPass, "BOOTSTRAP_ADMIN_PASSWORD", flagBootstrapAdminPass},
		{configKeyMpesaBaseURL, "MPESA_BASE_URL", flagMpesaBaseURL},
		{configKeyMpesaKey, "MPESA_CONSUMER_KEY", flagMpesaConsumerKey},
		{configKeyMpesaSecret, "MPESA_CONSUMER_SECRET", flagMpesaConsumerSecret},
		{configKeyMpesaShortcode, "MPESA_SHORTCODE", flagMpesaShortcode},
		{configKeyMpesaPasskey, "MPESA_PASSKEY", flagMpesaPasskey},
		{configKeyMpesaCallback, "MPESA_CALLBACK_URL", flagMpesaCallbackURL},
	}
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.configKey, binding.envName); err != nil {
			return err
		}
		if err := viper.BindPFlag(binding.configKey, cmd.Flags().Lookup(binding.flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.StoreBackend = viper.GetString(configKeyStoreBackend)
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = backendAuto
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.TokenSigningKey = viper.GetString(configKeyTokenSigningKey)
	cfg.TokenTTL = viper.GetDuration(configKeyTokenTTL)
	cfg.BootstrapAdminUsername = viper.GetString(configKeyBootstrapUser)
	cfg.BootstrapAdminPassword = viper.GetString(configKeyBootstrapPass)
	cfg.Mpesa = mpesa.Config{
		BaseURL:        viper.GetString(configKeyMpesaBaseURL),
		ConsumerKey:    viper.GetString(configKeyMpesaKey),
		ConsumerSecret: viper.GetString(configKeyMpesaSecret),
		Shortcode:      viper.GetString(configKeyMpesaShortcode),
		Passkey:        viper.GetString(configKeyMpesaPasskey),
		CallbackURL:    viper.GetString(configKeyMpesaCallback),
	}

	if cfg.TokenSigningKey == "" {
		return fmt.Errorf("token signing key is required")
	}
	switch cfg.StoreBackend {
	case backendAuto, backendGorm, backendPgx:
	default:
		return fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	serviceOptions := []library.ServiceOption{
		library.WithOperationLogger(webapi.NewZapOperationLogger(logger)),
	}
	if cfg.Mpesa.ConsumerKey != "" {
		gateway, err := mpesa.NewClient(cfg.Mpesa)
		if err != nil {
			return fmt.Errorf("mpesa client init: %w", err)
		}
		serviceOptions = append(serviceOptions, library.WithPaymentGateway(gateway))
	} else {
		logger.Warn("payment gateway not configured; checkout requests will fail upstream")
	}

	service, err := library.NewService(store, time.Now, serviceOptions...)
	if err != nil {
		return fmt.Errorf("service init: %w", err)
	}

	if err := bootstrapAdmin(ctx, store, cfg, logger); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	tokenManager, err := auth.NewTokenManager(cfg.TokenSigningKey, auth.WithTokenTTL(cfg.TokenTTL))
	if err != nil {
		return fmt.Errorf("token manager init: %w", err)
	}

	apiConfig := webapi.Config{
		ListenAddr:      cfg.ListenAddr,
		AllowedOrigins:  webapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		TokenSigningKey: cfg.TokenSigningKey,
		TokenTTL:        cfg.TokenTTL,
	}
	if err := apiConfig.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	return webapi.Run(ctx, apiConfig, service, tokenManager, logger)
}

// bootstrapAdmin seeds a super admin account on an empty user table so a
// fresh deployment has a way to log in.
func bootstrapAdmin(ctx context.Context, store library.Store, cfg *runtimeConfig, logger *zap.Logger) error {
	if cfg.BootstrapAdminUsername == "" || cfg.BootstrapAdminPassword == "" {
		return nil
	}
	users, err := store.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	passwordHash, err := auth.HashPassword(cfg.BootstrapAdminPassword)
	if err != nil {
		return err
	}
	userID, err := store.CreateUser(ctx, library.User{
		Username:     cfg.BootstrapAdminUsername,
		PasswordHash: passwordHash,
		Role:         library.RoleSuperAdmin,
	})
	if err != nil {
		if errors.Is(err, library.ErrUsernameTaken) {
			return nil
		}
		return err
	}
	logger.Info("seeded super admin", zap.Int64("user_id", int64(userID)), zap.String("username", cfg.BootstrapAdminUsername))
	return nil
}

// openStore picks the persistence backend for the configured database.
// Postgres URLs run on pgx by default; sqlite always runs on gorm.
func openStore(ctx context.Context, cfg *runtimeConfig) (library.Store, func() error, error) {
	driver, sqlitePath, err := resolveDriver(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	backend := cfg.StoreBackend
	if backend == backendAuto {
		backend = backendGorm
		if driver == "postgres" {
			backend = backendPgx
		}
	}

	if backend == backendPgx {
		if driver != "postgres" {
			return nil, nil, fmt.Errorf("pgx backend requires a postgres database url")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := pgstore.New(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		cleanup := func() error {
			pool.Close()
			return nil
		}
		return store, cleanup, nil
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{TranslateError: true}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	store := gormstore.New(db.WithContext(ctx))
	if err := store.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return store, cleanup, nil
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
			path = "tracker.db"
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
