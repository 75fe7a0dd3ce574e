package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/leadpipe/leadpipe/internal/api"
	"github.com/leadpipe/leadpipe/internal/genai"
	"github.com/leadpipe/leadpipe/internal/store"
	"github.com/leadpipe/leadpipe/internal/telegram"
	"github.com/leadpipe/leadpipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LeadPipe state data
	DefaultStateDir = "/var/lib/leadpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "leadpipe.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build module options
	telegramOpts := buildTelegramOptions(flags)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping LeadPipe with configured modules")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"dsn_set", *flags.dbDSN != "",
		"api_addr", *flags.apiAddr,
		"mode", *flags.mode)
	if err := api.Run(telegramOpts, storeOpts, genaiOpts, apiOpts); err != nil {
		slog.Error("LeadPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LeadPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	BotToken    string
	OpenAIKey   string
	OpenAIModel string
	DatabaseURL string
	StateDir    string
	APIAddr     string
	Mode        string
	WebhookURL  string
}

// Flags holds command line flag values
type Flags struct {
	botToken    *string
	openaiKey   *string
	openaiModel *string
	dbDSN       *string
	stateDir    *string
	apiAddr     *string
	mode        *string
	webhookURL  *string
}

// initializeLogger sets up structured logging. LEADPIPE_DEBUG=true enables
// debug level output.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("LEADPIPE_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		BotToken:    util.FirstNonEmptyEnv("BOT_TOKEN", "TELEGRAM_TOKEN"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel: os.Getenv("OPENAI_MODEL"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("LEADPIPE_STATE_DIR"),
		APIAddr:     os.Getenv("API_ADDR"),
		Mode:        os.Getenv("MODE"),
		WebhookURL:  os.Getenv("WEBHOOK_URL"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LEADPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	// PaaS platforms commonly inject PORT instead of a full address.
	if config.APIAddr == "" {
		if port := util.ParseIntEnv("PORT", 0); port > 0 {
			config.APIAddr = ":" + strconv.Itoa(port)
		}
	}

	// Webhook URL implies webhook mode unless the mode is set explicitly.
	if config.Mode == "" {
		if config.WebhookURL != "" {
			config.Mode = api.ModeWebhook
		} else {
			config.Mode = api.ModePolling
		}
	}

	slog.Debug("environment variables loaded",
		"BOT_TOKEN_SET", config.BotToken != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"LEADPIPE_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"MODE", config.Mode,
		"WEBHOOK_URL_SET", config.WebhookURL != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		botToken:    flag.String("bot-token", config.BotToken, "Telegram bot token (overrides $BOT_TOKEN)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel: flag.String("openai-model", config.OpenAIModel, "OpenAI completion model (overrides $OPENAI_MODEL)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN: PostgreSQL URL or SQLite path (overrides $DATABASE_URL)"),
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for LeadPipe data (overrides $LEADPIPE_STATE_DIR)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		mode:        flag.String("mode", config.Mode, "transport mode: polling or webhook (overrides $MODE)"),
		webhookURL:  flag.String("webhook-url", config.WebhookURL, "public base URL for webhook mode (overrides $WEBHOOK_URL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"botTokenSet", *flags.botToken != "",
		"openaiKeySet", *flags.openaiKey != "",
		"openaiModel", *flags.openaiModel,
		"dbDSN_set", *flags.dbDSN != "",
		"stateDir", *flags.stateDir,
		"apiAddr", *flags.apiAddr,
		"mode", *flags.mode,
		"webhookURLSet", *flags.webhookURL != "")

	// Follow a state-dir override when the DSN was derived from the default.
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildTelegramOptions constructs Telegram client configuration options
func buildTelegramOptions(flags Flags) []telegram.Option {
	var telegramOpts []telegram.Option
	if *flags.botToken != "" {
		telegramOpts = append(telegramOpts, telegram.WithToken(*flags.botToken))
	}
	return telegramOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.mode != "" {
		apiOpts = append(apiOpts, api.WithMode(*flags.mode))
	}
	if *flags.webhookURL != "" {
		apiOpts = append(apiOpts, api.WithWebhookURL(*flags.webhookURL))
	}
	if *flags.stateDir != "" {
		apiOpts = append(apiOpts, api.WithStateDir(*flags.stateDir))
	}
	return apiOpts
}
