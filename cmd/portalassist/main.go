// Command portalassist runs the help-desk assistant service.
package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/PortalAssist/internal/access"
	"github.com/BTreeMap/PortalAssist/internal/api"
	"github.com/BTreeMap/PortalAssist/internal/flow"
	"github.com/BTreeMap/PortalAssist/internal/genai"
	"github.com/BTreeMap/PortalAssist/internal/lockfile"
	"github.com/BTreeMap/PortalAssist/internal/ratelimit"
	"github.com/BTreeMap/PortalAssist/internal/servicedesk"
	"github.com/BTreeMap/PortalAssist/internal/store"
	"github.com/BTreeMap/PortalAssist/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for PortalAssist state data
	DefaultStateDir = "/var/lib/portalassist"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "portalassist.db"
	// DefaultAPIAddr is the default API listen address
	DefaultAPIAddr = ":8080"
)

// Config holds environment configuration.
type Config struct {
	StateDir         string
	DBDriver         string
	DBDSN            string
	APIAddr          string
	TicketingBaseURL string
	TicketingEmail   string
	TicketingToken   string
	SecretPassphrase string
	AnonymousBucket  string
}

func main() {
	initializeLogger()

	// .env is optional; environment wins when both are present
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	cfg := loadEnvironmentConfig()
	parseCommandLineFlags(&cfg)

	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	creds, err := genai.NewCredentialManager(st, cfg.SecretPassphrase)
	if err != nil {
		slog.Error("Failed to initialize credential manager", "error", err)
		os.Exit(1)
	}
	if err := creds.MigratePlaintext(); err != nil {
		slog.Error("Failed to migrate legacy API key", "error", err)
		os.Exit(1)
	}

	ticketing, err := servicedesk.NewClient(
		servicedesk.WithBaseURL(cfg.TicketingBaseURL),
		servicedesk.WithCredentials(cfg.TicketingEmail, cfg.TicketingToken),
	)
	if err != nil {
		slog.Error("Failed to create ticketing client", "error", err)
		os.Exit(1)
	}

	resolver := access.NewResolver(ticketing)
	policy := access.NewPolicy(st, resolver)
	limiter := ratelimit.NewLimiter(st,
		ratelimit.WithWindow(util.ParseDurationEnv("RATE_LIMIT_WINDOW", ratelimit.DefaultWindow)),
		ratelimit.WithMaxRequests(util.ParseIntEnv("RATE_LIMIT_MAX", ratelimit.DefaultMaxRequests)),
		ratelimit.WithAnonymousBucket(cfg.AnonymousBucket),
	)

	engine := flow.NewEngine(flow.Dependencies{
		Store:     st,
		Policy:    policy,
		Resolver:  resolver,
		Limiter:   limiter,
		Ticketing: ticketing,
		Completer: genai.NewSource(st, creds),
	})

	server := api.NewServer(engine, policy, ticketing, api.WithAddr(cfg.APIAddr))
	slog.Info("Bootstrapping PortalAssist", "state_dir", cfg.StateDir, "db_driver", cfg.DBDriver, "api_addr", cfg.APIAddr)
	if err := server.Run(); err != nil {
		slog.Error("PortalAssist failed to run", "error", err)
		os.Exit(1)
	}
}

// initializeLogger configures slog from the LOG_LEVEL environment variable.
func initializeLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// loadEnvironmentConfig reads configuration from the environment.
func loadEnvironmentConfig() Config {
	return Config{
		StateDir:         util.GetEnv("PORTALASSIST_STATE_DIR", DefaultStateDir),
		DBDriver:         util.GetEnv("DATABASE_DRIVER", ""),
		DBDSN:            util.GetEnv("DATABASE_URL", os.Getenv("DATABASE_DSN")),
		APIAddr:          util.GetEnv("API_ADDR", DefaultAPIAddr),
		TicketingBaseURL: os.Getenv("TICKETING_BASE_URL"),
		TicketingEmail:   os.Getenv("TICKETING_EMAIL"),
		TicketingToken:   os.Getenv("TICKETING_API_TOKEN"),
		SecretPassphrase: os.Getenv("PORTALASSIST_SECRET_PASSPHRASE"),
		AnonymousBucket:  util.GetEnv("RATE_LIMIT_ANON_BUCKET", ratelimit.DefaultAnonymousBucket),
	}
}

// parseCommandLineFlags overrides environment configuration with flags.
func parseCommandLineFlags(cfg *Config) {
	stateDir := flag.String("state-dir", cfg.StateDir, "directory for PortalAssist state data")
	dbDriver := flag.String("db-driver", cfg.DBDriver, "database driver (sqlite or postgres)")
	dbDSN := flag.String("db-dsn", cfg.DBDSN, "database DSN (file path for sqlite, URL for postgres)")
	apiAddr := flag.String("api-addr", cfg.APIAddr, "API listen address")
	ticketingURL := flag.String("ticketing-url", cfg.TicketingBaseURL, "ticketing system base URL")
	flag.Parse()

	cfg.StateDir = *stateDir
	cfg.DBDriver = *dbDriver
	cfg.DBDSN = *dbDSN
	cfg.APIAddr = *apiAddr
	cfg.TicketingBaseURL = *ticketingURL
}

// openStore selects the backend: an explicit postgres driver or URL-shaped
// DSN opens PostgreSQL, anything else falls back to SQLite in the state
// directory.
func openStore(cfg Config) (store.Store, error) {
	driver := strings.ToLower(cfg.DBDriver)
	if driver == "postgres" || strings.HasPrefix(cfg.DBDSN, "postgres://") || strings.HasPrefix(cfg.DBDSN, "postgresql://") {
		return store.NewPostgresStore(store.WithDSN(cfg.DBDSN))
	}
	dsn := cfg.DBDSN
	if dsn == "" {
		dsn = filepath.Join(cfg.StateDir, DefaultDBFileName)
	}
	return store.NewSQLiteStore(store.WithDSN(dsn))
}
