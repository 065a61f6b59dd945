package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/IntakePipe/internal/api"
	"github.com/BTreeMap/IntakePipe/internal/chancontext"
	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/graph"
	"github.com/BTreeMap/IntakePipe/internal/messaging"
	"github.com/BTreeMap/IntakePipe/internal/notion"
	"github.com/BTreeMap/IntakePipe/internal/slackapi"
	"github.com/BTreeMap/IntakePipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for IntakePipe state data
	DefaultStateDir = "/var/lib/intakepipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "intakepipe.db"
	// DefaultDedupRetention is how long inbound event ids are remembered
	DefaultDedupRetention = 24 * time.Hour
)

func main() {
	initializeLogger(util.ParseBoolEnv("INTAKE_DEBUG", false))

	config := loadEnvironmentConfig()
	flags, err := parseCommandLineFlags(config, os.Args[1:])
	if err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}

	slog.Info("Bootstrapping IntakePipe")
	slog.Debug("Final configuration", "state_dir", flags.StateDir, "dsn_set", flags.DatabaseDSN != "", "api_addr", flags.APIAddr, "lambda", flags.Lambda)
	if err := run(flags); err != nil {
		slog.Error("IntakePipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("IntakePipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	SlackToken        string
	SlackAPIURL       string
	NotionToken       string
	NotionDatabaseID  string
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphDriveID      string
	GraphFolderParent string
	PlaceholderURL    string
	DefaultMembers    []string
	FlowsFile         string
	StateDir          string
	DatabaseDSN       string
	APIAddr           string
	Lambda            bool
	ChannelContextTTL time.Duration
	Workers           int
	Debug             bool
}

// initializeLogger sets up structured logging
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
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
		SlackToken:        os.Getenv("SLACK_BOT_TOKEN"),
		SlackAPIURL:       os.Getenv("SLACK_API_URL"),
		NotionToken:       os.Getenv("NOTION_TOKEN"),
		NotionDatabaseID:  os.Getenv("NOTION_DATABASE_ID"),
		GraphTenantID:     os.Getenv("GRAPH_TENANT_ID"),
		GraphClientID:     os.Getenv("GRAPH_CLIENT_ID"),
		GraphClientSecret: os.Getenv("GRAPH_CLIENT_SECRET"),
		GraphDriveID:      os.Getenv("GRAPH_DRIVE_ID"),
		GraphFolderParent: os.Getenv("GRAPH_FOLDER_PARENT"),
		PlaceholderURL:    os.Getenv("INTAKE_PLACEHOLDER_URL"),
		DefaultMembers:    util.ParseListEnv("INTAKE_DEFAULT_MEMBERS"),
		FlowsFile:         os.Getenv("INTAKE_FLOWS_FILE"),
		StateDir:          os.Getenv("INTAKE_STATE_DIR"),
		DatabaseDSN:       os.Getenv("DATABASE_URL"),
		APIAddr:           os.Getenv("API_ADDR"),
		Lambda:            util.ParseBoolEnv("INTAKE_LAMBDA", os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""),
		ChannelContextTTL: util.ParseDurationEnv("CHANNEL_CONTEXT_TTL", chancontext.DefaultTTL),
		Workers:           util.ParseIntEnv("INTAKE_WORKERS", messaging.DefaultWorkers),
		Debug:             util.ParseBoolEnv("INTAKE_DEBUG", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No INTAKE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// Lambda has no persistent disk; without DATABASE_URL it dedups in memory.
	if config.DatabaseDSN == "" && !config.Lambda {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}

	slog.Debug("environment variables loaded",
		"SLACK_BOT_TOKEN_SET", config.SlackToken != "",
		"NOTION_TOKEN_SET", config.NotionToken != "",
		"NOTION_DATABASE_ID_SET", config.NotionDatabaseID != "",
		"GRAPH_CREDENTIALS_SET", config.graphConfigured(),
		"INTAKE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseDSN != "",
		"API_ADDR", config.APIAddr,
		"INTAKE_LAMBDA", config.Lambda,
		"INTAKE_WORKERS", config.Workers)

	return config
}

func (c Config) graphConfigured() bool {
	return c.GraphTenantID != "" && c.GraphClientID != "" && c.GraphClientSecret != "" && c.GraphDriveID != ""
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config, args []string) (Config, error) {
	defaultDSN := filepath.Join(config.StateDir, DefaultDBFileName)
	fs := flag.NewFlagSet("IntakePipe", flag.ContinueOnError)
	stateDir := fs.String("state-dir", config.StateDir, "state directory for IntakePipe data (overrides $INTAKE_STATE_DIR)")
	dbDSN := fs.String("db-dsn", config.DatabaseDSN, "SQLite path or PostgreSQL DSN for the event log (overrides $DATABASE_URL)")
	apiAddr := fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	flowsFile := fs.String("flows", config.FlowsFile, "flow definition YAML file (overrides $INTAKE_FLOWS_FILE)")
	lambdaMode := fs.Bool("lambda", config.Lambda, "serve AWS Lambda Function URL events instead of HTTP (overrides $INTAKE_LAMBDA)")
	workers := fs.Int("workers", config.Workers, "number of event dispatch workers (overrides $INTAKE_WORKERS)")
	if err := fs.Parse(args); err != nil {
		return config, err
	}

	// Follow a moved state directory when the DSN is still the default one.
	if *dbDSN == defaultDSN && *stateDir != config.StateDir {
		*dbDSN = filepath.Join(*stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *stateDir)
	}

	config.StateDir = *stateDir
	config.DatabaseDSN = *dbDSN
	config.APIAddr = *apiAddr
	config.FlowsFile = *flowsFile
	config.Lambda = *lambdaMode
	config.Workers = *workers
	slog.Debug("flags parsed", "stateDir", config.StateDir, "dbDSN_set", config.DatabaseDSN != "", "apiAddr", config.APIAddr, "flows", config.FlowsFile, "lambda", config.Lambda, "workers", config.Workers)
	return config, nil
}

// buildSlackOptions constructs Slack client options
func buildSlackOptions(config Config) []slackapi.Option {
	opts := []slackapi.Option{slackapi.WithToken(config.SlackToken)}
	if config.SlackAPIURL != "" {
		opts = append(opts, slackapi.WithAPIURL(config.SlackAPIURL))
	}
	if config.Debug {
		opts = append(opts, slackapi.WithDebug(true))
	}
	return opts
}

// buildNotionOptions constructs Notion client options
func buildNotionOptions(config Config) []notion.Option {
	return []notion.Option{notion.WithToken(config.NotionToken)}
}

// buildGraphOptions constructs Microsoft Graph client options
func buildGraphOptions(config Config) []graph.Option {
	return []graph.Option{
		graph.WithCredentials(config.GraphTenantID, config.GraphClientID, config.GraphClientSecret),
		graph.WithDriveID(config.GraphDriveID),
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config) []api.Option {
	var apiOpts []api.Option
	if config.APIAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(config.APIAddr))
	}
	return apiOpts
}

// buildFlowConfig maps global defaults into flow resolution.
func buildFlowConfig(config Config) flow.Config {
	return flow.Config{
		DefaultCollectionID:   config.NotionDatabaseID,
		DefaultFolderParent:   config.GraphFolderParent,
		DefaultPlaceholderURL: config.PlaceholderURL,
	}
}
