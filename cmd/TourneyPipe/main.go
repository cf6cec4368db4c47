// Command TourneyPipe runs the tournament setup wizard bot.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/scheduler"
	"github.com/BTreeMap/TourneyPipe/internal/store"
	"github.com/BTreeMap/TourneyPipe/internal/util"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for TourneyPipe state data
	DefaultStateDir = "/var/lib/tourneypipe"
	// DefaultAppDBFileName is the default SQLite database filename
	DefaultAppDBFileName = "tourneypipe.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultPlatform is used when TOURNEYPIPE_PLATFORM is unset
	DefaultPlatform = "discord"
	// DefaultTimezone is used for dates, hours and announcement times
	DefaultTimezone = "America/New_York"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// Config holds environment configuration, overridden by command line flags.
type Config struct {
	Platform       string
	DiscordToken   string
	DiscordGuildID string
	WhatsAppDBDSN  string
	WhatsAppAdmins string
	QROutput       string
	NumericCode    bool

	DatabaseDSN string
	StateDir    string

	QuestionsFile string
	LogChannelID  string
	RequiredRole  string
	Timezone      string
	Retention     time.Duration

	OpenAIKey   string
	OpenAIModel string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioNotifyTo   string

	APIAddr  string
	LogLevel string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// initializeLogger sets up structured logging at the given level
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelDebug
	}
	return l
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Platform:         os.Getenv("TOURNEYPIPE_PLATFORM"),
		DiscordToken:     os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordGuildID:   os.Getenv("DISCORD_GUILD_ID"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		WhatsAppAdmins:   os.Getenv("WHATSAPP_ADMINS"),
		DatabaseDSN:      util.FirstEnv("DATABASE_DSN", "DATABASE_URL"),
		StateDir:         os.Getenv("TOURNEYPIPE_STATE_DIR"),
		QuestionsFile:    os.Getenv("TOURNEYPIPE_QUESTIONS"),
		LogChannelID:     os.Getenv("TOURNEYPIPE_LOG_CHANNEL_ID"),
		RequiredRole:     os.Getenv("TOURNEYPIPE_REQUIRED_ROLE"),
		Timezone:         os.Getenv("TOURNEYPIPE_TIMEZONE"),
		Retention:        util.ParseDurationEnv("TOURNEYPIPE_RETENTION", scheduler.DefaultRetention),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioNotifyTo:   os.Getenv("TWILIO_NOTIFY_TO"),
		APIAddr:          os.Getenv("API_ADDR"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		NumericCode:      util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false),
	}

	if config.Platform == "" {
		config.Platform = DefaultPlatform
	}
	if config.Timezone == "" {
		config.Timezone = DefaultTimezone
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No TOURNEYPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"TOURNEYPIPE_PLATFORM", config.Platform,
		"DISCORD_BOT_TOKEN_SET", config.DiscordToken != "",
		"DATABASE_DSN_SET", config.DatabaseDSN != "",
		"TOURNEYPIPE_STATE_DIR", config.StateDir,
		"TOURNEYPIPE_TIMEZONE", config.Timezone,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"TWILIO_NOTIFY_TO_SET", config.TwilioNotifyTo != "",
		"API_ADDR", config.APIAddr)
	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// newRootCmd builds the CLI. Flags default to the environment configuration.
func newRootCmd() *cobra.Command {
	config := loadEnvironmentConfig()
	envStateDir := config.StateDir
	envDatabaseDSN := config.DatabaseDSN
	envWhatsAppDSN := config.WhatsAppDBDSN

	cmd := &cobra.Command{
		Use:           "TourneyPipe",
		Short:         "Tournament setup wizard bot for Discord and WhatsApp",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initializeLogger(config.LogLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			applyStateDir(&config, envStateDir, envDatabaseDSN, envWhatsAppDSN)
			if err := validateConfig(config); err != nil {
				slog.Error("Invalid configuration", "error", err)
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			slog.Info("Bootstrapping TourneyPipe", "platform", config.Platform, "version", version)
			if err := run(ctx, config); err != nil {
				slog.Error("TourneyPipe failed to run", "error", err)
				return err
			}
			slog.Info("TourneyPipe exited successfully")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&config.Platform, "platform", config.Platform, "chat platform: discord or whatsapp (overrides $TOURNEYPIPE_PLATFORM)")
	f.StringVar(&config.DiscordToken, "discord-token", config.DiscordToken, "Discord bot token (overrides $DISCORD_BOT_TOKEN)")
	f.StringVar(&config.DiscordGuildID, "discord-guild", config.DiscordGuildID, "register slash commands in this guild only (overrides $DISCORD_GUILD_ID)")
	f.StringVar(&config.WhatsAppDBDSN, "whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow device database DSN (overrides $WHATSAPP_DB_DSN)")
	f.StringVar(&config.WhatsAppAdmins, "whatsapp-admins", config.WhatsAppAdmins, "comma separated phone numbers allowed to run setup (overrides $WHATSAPP_ADMINS)")
	f.StringVar(&config.QROutput, "qr-output", "", "path to write the WhatsApp login QR code")
	f.BoolVar(&config.NumericCode, "numeric-code", config.NumericCode, "print the WhatsApp pairing code instead of a QR code")
	f.StringVar(&config.DatabaseDSN, "db-dsn", config.DatabaseDSN, "application database DSN; sqlite path, postgres URL or \"memory\" (overrides $DATABASE_DSN)")
	f.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for TourneyPipe data (overrides $TOURNEYPIPE_STATE_DIR)")
	f.StringVar(&config.QuestionsFile, "questions", config.QuestionsFile, "YAML question registry replacing the built-in one (overrides $TOURNEYPIPE_QUESTIONS)")
	f.StringVar(&config.LogChannelID, "log-channel", config.LogChannelID, "channel receiving a copy of every completed setup (overrides $TOURNEYPIPE_LOG_CHANNEL_ID)")
	f.StringVar(&config.RequiredRole, "required-role", config.RequiredRole, "role that may run setup without admin permission (overrides $TOURNEYPIPE_REQUIRED_ROLE)")
	f.StringVar(&config.Timezone, "timezone", config.Timezone, "IANA timezone for dates and times (overrides $TOURNEYPIPE_TIMEZONE)")
	f.DurationVar(&config.Retention, "retention", config.Retention, "how long finished jobs and outbox rows are kept (overrides $TOURNEYPIPE_RETENTION)")
	f.StringVar(&config.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key enabling announcement rewrites (overrides $OPENAI_API_KEY)")
	f.StringVar(&config.OpenAIModel, "openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)")
	f.StringVar(&config.TwilioNotifyTo, "notify-to", config.TwilioNotifyTo, "WhatsApp number notified of completed setups via Twilio (overrides $TWILIO_NOTIFY_TO)")
	f.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "status API address; disabled when empty (overrides $API_ADDR)")
	cmd.PersistentFlags().StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level: debug, info, warn or error (overrides $LOG_LEVEL)")
	return cmd
}

// applyStateDir moves file-based DSNs that were derived from the environment
// state directory under a state directory given on the command line.
func applyStateDir(config *Config, envStateDir, envDatabaseDSN, envWhatsAppDSN string) {
	if config.StateDir == envStateDir {
		return
	}
	if config.DatabaseDSN == envDatabaseDSN && envDatabaseDSN == filepath.Join(envStateDir, DefaultAppDBFileName) {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("Updated database DSN based on state directory", "state_dir", config.StateDir)
	}
	if config.WhatsAppDBDSN == envWhatsAppDSN && envWhatsAppDSN == defaultWhatsAppDSN(envStateDir) {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
	}
}

func validateConfig(config Config) error {
	switch config.Platform {
	case "discord":
		if config.DiscordToken == "" {
			return fmt.Errorf("DISCORD_BOT_TOKEN is required for the discord platform")
		}
	case "whatsapp":
	default:
		return fmt.Errorf("unknown platform %q: want discord or whatsapp", config.Platform)
	}
	if _, err := time.LoadLocation(config.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", config.Timezone, err)
	}
	if config.Retention <= 0 {
		return fmt.Errorf("retention must be positive, got %s", config.Retention)
	}
	return nil
}

// ensureDirectoriesExist creates the state directory and the directory of a
// file-based database.
func ensureDirectoriesExist(config Config) error {
	dirs := []string{config.StateDir}
	if store.DetectDSNType(config.DatabaseDSN) == store.BackendSQLite {
		dirs = append(dirs, filepath.Dir(strings.TrimPrefix(config.DatabaseDSN, "file:")))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", dir)
			return err
		}
	}
	return nil
}
