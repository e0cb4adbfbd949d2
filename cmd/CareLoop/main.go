package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/CareLoop/CareLoop/internal/agents"
	"github.com/CareLoop/CareLoop/internal/api"
	"github.com/CareLoop/CareLoop/internal/bus"
	"github.com/CareLoop/CareLoop/internal/genai"
	"github.com/CareLoop/CareLoop/internal/insights"
	"github.com/CareLoop/CareLoop/internal/notify"
	"github.com/CareLoop/CareLoop/internal/pipeline"
	"github.com/CareLoop/CareLoop/internal/store"
	"github.com/CareLoop/CareLoop/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CareLoop state data
	DefaultStateDir = "/var/lib/careloop"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "careloop.db"
	// shutdownTimeout bounds graceful HTTP shutdown
	shutdownTimeout = 10 * time.Second
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	if err := run(flags); err != nil {
		slog.Error("CareLoop failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CareLoop exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	AMQPURL     string
	StateDir    string
	OpenAIKey   string
	APIAddr     string
	SweepEvery  string
	RNGSeed     string
}

// Flags holds command line flag values
type Flags struct {
	stateDir   *string
	dbDSN      *string
	amqpURL    *string
	openaiKey  *string
	apiAddr    *string
	sweepEvery *string
	rngSeed    *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		AMQPURL:     os.Getenv("AMQP_URL"),
		StateDir:    os.Getenv("CARELOOP_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     os.Getenv("API_ADDR"),
		SweepEvery:  os.Getenv("TREND_SWEEP_INTERVAL"),
		RNGSeed:     os.Getenv("CARELOOP_RNG_SEED"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CARELOOP_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"AMQP_URL_SET", config.AMQPURL != "",
		"CARELOOP_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"TREND_SWEEP_INTERVAL", config.SweepEvery)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:   flag.String("state-dir", config.StateDir, "state directory for CareLoop data (overrides $CARELOOP_STATE_DIR)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "database DSN: Postgres URL or SQLite file path (overrides $DATABASE_URL)"),
		amqpURL:    flag.String("amqp-url", config.AMQPURL, "RabbitMQ broker URL; empty uses the in-memory bus (overrides $AMQP_URL)"),
		openaiKey:  flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for insight narratives (overrides $OPENAI_API_KEY)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		sweepEvery: flag.String("sweep-interval", config.SweepEvery, "trend sweep interval, e.g. 15m (overrides $TREND_SWEEP_INTERVAL)"),
		rngSeed:    flag.String("rng-seed", config.RNGSeed, "seed for template selection randomness (overrides $CARELOOP_RNG_SEED)"),
	}

	flag.Parse()

	if *flags.dbDSN == "" {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", *flags.dbDSN)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"amqpURL_set", *flags.amqpURL != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"sweepEvery", *flags.sweepEvery)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// buildStore selects the store backend from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		st, err := store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	st, err := store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
	if err != nil {
		return nil, err
	}
	return st, nil
}

// buildBus selects the in-memory bus unless a broker URL is configured.
func buildBus(flags Flags) (bus.Bus, error) {
	if *flags.amqpURL != "" {
		slog.Debug("AMQP URL configured, using RabbitMQ bus")
		b, err := bus.NewRabbitBus(bus.WithURL(*flags.amqpURL))
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	slog.Debug("No AMQP URL configured, using in-memory bus")
	return bus.NewMemoryBus(), nil
}

// buildGenerator returns a GenAI generator when an API key is configured,
// nil otherwise.
func buildGenerator(flags Flags) genai.Generator {
	if *flags.openaiKey == "" {
		slog.Debug("No OpenAI API key configured, insight narratives use template text")
		return nil
	}
	gen, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
	if err != nil {
		slog.Warn("Failed to configure GenAI client, continuing without it", "error", err)
		return nil
	}
	return gen
}

// buildNotifier returns the Twilio escalation notifier when Twilio is
// configured, otherwise the recording mock.
func buildNotifier() notify.Notifier {
	if os.Getenv("TWILIO_ACCOUNT_SID") == "" {
		slog.Debug("Twilio not configured, escalations use the mock notifier")
		return notify.NewMockNotifier()
	}
	notifier, err := notify.NewTwilioNotifier()
	if err != nil {
		slog.Warn("Failed to configure Twilio notifier, falling back to mock", "error", err)
		return notify.NewMockNotifier()
	}
	return notifier
}

// rngSeed parses the configured seed, defaulting to a time-derived one.
func rngSeed(flags Flags) uint64 {
	if *flags.rngSeed != "" {
		if seed, err := strconv.ParseUint(*flags.rngSeed, 10, 64); err == nil {
			return seed
		}
		slog.Warn("Invalid RNG seed, using time-derived seed", "value", *flags.rngSeed)
	}
	return uint64(time.Now().UnixNano())
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	eventBus, err := buildBus(flags)
	if err != nil {
		return err
	}

	rng := util.NewRand(rngSeed(flags))
	hub := notify.NewHub()
	generator := buildGenerator(flags)
	notifier := buildNotifier()

	companion := agents.NewCompanionAgent(rng)
	questionnaire := agents.NewAdaptiveQuestionnaireAgent(st, rng)
	trends := agents.NewTrendMonitoringAgent(st)
	orch := agents.NewOrchestrator(st, companion, questionnaire, trends)
	publisher := insights.NewPublisher(st, eventBus, hub, generator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumers := pipeline.NewConsumers(eventBus, st, companion, trends, publisher, notifier)
	if err := consumers.Start(ctx); err != nil {
		return err
	}

	sweepInterval := time.Duration(0)
	if *flags.sweepEvery != "" {
		sweepInterval, err = time.ParseDuration(*flags.sweepEvery)
		if err != nil {
			slog.Warn("Invalid sweep interval, using default", "value", *flags.sweepEvery, "error", err)
			sweepInterval = 0
		}
	}
	sweeper := pipeline.NewSweeper(st, trends, sweepInterval)
	go sweeper.Run(ctx)

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(st, orch, eventBus, hub, apiOpts...)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	if err := eventBus.Close(); err != nil {
		slog.Error("Event bus close failed", "error", err)
	}
	return nil
}
