package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dietfurt/kolpingbot/internal/api"
	"github.com/dietfurt/kolpingbot/internal/content"
	"github.com/dietfurt/kolpingbot/internal/dialog"
	"github.com/dietfurt/kolpingbot/internal/events"
	"github.com/dietfurt/kolpingbot/internal/httpretry"
	"github.com/dietfurt/kolpingbot/internal/lockfile"
	"github.com/dietfurt/kolpingbot/internal/messaging"
	"github.com/dietfurt/kolpingbot/internal/messenger"
	"github.com/dietfurt/kolpingbot/internal/responder"
	"github.com/dietfurt/kolpingbot/internal/scheduler"
	"github.com/dietfurt/kolpingbot/internal/store"
	"github.com/dietfurt/kolpingbot/internal/twiliowhatsapp"
	"github.com/dietfurt/kolpingbot/internal/util"
	"github.com/dietfurt/kolpingbot/internal/weather"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for KolpingBot state data
	DefaultStateDir = "/var/lib/kolpingbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "kolpingbot.db"
	// DefaultWeatherCity is the city reported by the weather responder
	DefaultWeatherCity = "Dietfurt"
	// DefaultStateTTL bounds how long an abandoned dialog survives on expiring backends
	DefaultStateTTL = 24 * time.Hour

	shutdownTimeout = 15 * time.Second
)

// Store backend names accepted by STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel)

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}
	if err := validateFlags(flags); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping KolpingBot with configured modules")
	if err := run(flags); err != nil {
		slog.Error("KolpingBot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("KolpingBot exited successfully")
}

// Config holds environment configuration
type Config struct {
	APIAddr          string
	AppSecret        string
	VerifyToken      string
	PageToken        string
	GraphURL         string
	UseMessenger     bool
	UseTwilio        bool
	TwilioSID        string
	TwilioToken      string
	TwilioFrom       string
	TwilioWebhookURL string
	StoreBackend     string
	DatabaseURL      string
	StateDir         string
	RedisURL         string
	DynamoTable      string
	StateTTL         time.Duration
	PruneSchedule    string
	EventsAPIURL     string
	EventsFeedURL    string
	WeatherAPIKey    string
	WeatherAPIURL    string
	WeatherCity      string
	Workers          int
	LogLevel         string
	ContentFile      string
}

// Flags holds command line flag values
type Flags struct {
	apiAddr          *string
	appSecret        *string
	verifyToken      *string
	pageToken        *string
	graphURL         *string
	useMessenger     *bool
	useTwilio        *bool
	twilioSID        *string
	twilioToken      *string
	twilioFrom       *string
	twilioWebhookURL *string
	storeBackend     *string
	dbDSN            *string
	stateDir         *string
	redisURL         *string
	dynamoTable      *string
	stateTTL         *time.Duration
	pruneSchedule    *string
	eventsAPIURL     *string
	eventsFeedURL    *string
	weatherAPIKey    *string
	weatherAPIURL    *string
	weatherCity      *string
	workers          *int
	contentFile      *string
}

// initializeLogger sets up structured logging on stdout at the given level.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

// parseLogLevel maps LOG_LEVEL to a slog level, defaulting to debug.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		APIAddr:          os.Getenv("API_ADDR"),
		AppSecret:        os.Getenv("MESSENGER_APP_SECRET"),
		VerifyToken:      os.Getenv("MESSENGER_VALIDATION_TOKEN"),
		PageToken:        os.Getenv("MESSENGER_PAGE_TOKEN"),
		GraphURL:         os.Getenv("GRAPH_API_URL"),
		UseMessenger:     util.ParseBoolEnv("USE_MESSENGER", true),
		UseTwilio:        util.ParseBoolEnv("USE_TWILIO", false),
		TwilioSID:        os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),
		StoreBackend:     strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND"))),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		StateDir:         os.Getenv("KOLPINGBOT_STATE_DIR"),
		RedisURL:         os.Getenv("REDIS_URL"),
		DynamoTable:      os.Getenv("DYNAMODB_TABLE"),
		StateTTL:         util.ParseDurationEnv("STATE_TTL", DefaultStateTTL),
		PruneSchedule:    os.Getenv("PRUNE_SCHEDULE"),
		EventsAPIURL:     os.Getenv("EVENTS_API_URL"),
		EventsFeedURL:    os.Getenv("EVENTS_FEED_URL"),
		WeatherAPIKey:    os.Getenv("WEATHER_API_KEY"),
		WeatherAPIURL:    os.Getenv("WEATHER_API_URL"),
		WeatherCity:      os.Getenv("WEATHER_CITY"),
		Workers:          util.ParseIntEnv("WORKERS", messaging.DefaultWorkers),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		ContentFile:      os.Getenv("CONTENT_FILE"),
	}

	// PORT is what most hosting platforms inject
	if config.APIAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			config.APIAddr = ":" + port
		} else {
			config.APIAddr = api.DefaultAddr
		}
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.WeatherCity == "" {
		config.WeatherCity = DefaultWeatherCity
	}
	if config.EventsAPIURL == "" {
		config.EventsAPIURL = events.DefaultAPIURL
	}
	if config.PruneSchedule == "" {
		config.PruneSchedule = scheduler.DefaultPruneSchedule
	}

	slog.Debug("environment variables loaded",
		"API_ADDR", config.APIAddr,
		"MESSENGER_APP_SECRET_SET", config.AppSecret != "",
		"MESSENGER_VALIDATION_TOKEN_SET", config.VerifyToken != "",
		"MESSENGER_PAGE_TOKEN_SET", config.PageToken != "",
		"USE_MESSENGER", config.UseMessenger,
		"USE_TWILIO", config.UseTwilio,
		"STORE_BACKEND", config.StoreBackend,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"KOLPINGBOT_STATE_DIR", config.StateDir,
		"REDIS_URL_SET", config.RedisURL != "",
		"EVENTS_FEED_URL", config.EventsFeedURL,
		"WEATHER_API_KEY_SET", config.WeatherAPIKey != "",
		"WORKERS", config.Workers)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		apiAddr:          fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR / $PORT)"),
		appSecret:        fs.String("app-secret", config.AppSecret, "Messenger app secret (overrides $MESSENGER_APP_SECRET)"),
		verifyToken:      fs.String("verify-token", config.VerifyToken, "webhook verify token (overrides $MESSENGER_VALIDATION_TOKEN)"),
		pageToken:        fs.String("page-token", config.PageToken, "page access token (overrides $MESSENGER_PAGE_TOKEN)"),
		graphURL:         fs.String("graph-url", config.GraphURL, "Graph API base URL (overrides $GRAPH_API_URL)"),
		useMessenger:     fs.Bool("messenger", config.UseMessenger, "enable the Messenger channel (overrides $USE_MESSENGER)"),
		useTwilio:        fs.Bool("twilio", config.UseTwilio, "enable the WhatsApp channel via Twilio (overrides $USE_TWILIO)"),
		twilioSID:        fs.String("twilio-account-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:      fs.String("twilio-auth-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:       fs.String("twilio-from", config.TwilioFrom, "Twilio WhatsApp sender number (overrides $TWILIO_FROM_NUMBER)"),
		twilioWebhookURL: fs.String("twilio-webhook-url", config.TwilioWebhookURL, "public URL of the Twilio webhook for signature checks (overrides $TWILIO_WEBHOOK_URL)"),
		storeBackend:     fs.String("store", config.StoreBackend, "session store: memory, sqlite, postgres, redis, dynamodb (overrides $STORE_BACKEND)"),
		dbDSN:            fs.String("db-dsn", config.DatabaseURL, "database DSN for the sqlite/postgres store (overrides $DATABASE_URL)"),
		stateDir:         fs.String("state-dir", config.StateDir, "state directory for the SQLite store (overrides $KOLPINGBOT_STATE_DIR)"),
		redisURL:         fs.String("redis-url", config.RedisURL, "Redis URL (overrides $REDIS_URL)"),
		dynamoTable:      fs.String("dynamodb-table", config.DynamoTable, "DynamoDB table (overrides $DYNAMODB_TABLE)"),
		stateTTL:         fs.Duration("state-ttl", config.StateTTL, "expiry of abandoned dialogs and dedup records (overrides $STATE_TTL)"),
		pruneSchedule:    fs.String("prune-schedule", config.PruneSchedule, "cron expression of the expiry sweep on memory/sqlite/postgres (overrides $PRUNE_SCHEDULE)"),
		eventsAPIURL:     fs.String("events-api-url", config.EventsAPIURL, "events JSON endpoint (overrides $EVENTS_API_URL)"),
		eventsFeedURL:    fs.String("events-feed-url", config.EventsFeedURL, "events RSS/Atom feed, preferred over the API (overrides $EVENTS_FEED_URL)"),
		weatherAPIKey:    fs.String("weather-api-key", config.WeatherAPIKey, "OpenWeatherMap API key (overrides $WEATHER_API_KEY)"),
		weatherAPIURL:    fs.String("weather-api-url", config.WeatherAPIURL, "OpenWeatherMap endpoint (overrides $WEATHER_API_URL)"),
		weatherCity:      fs.String("weather-city", config.WeatherCity, "city for weather replies (overrides $WEATHER_CITY)"),
		workers:          fs.Int("workers", config.Workers, "concurrent event workers per channel (overrides $WORKERS)"),
		contentFile:      fs.String("content", config.ContentFile, "YAML file overriding keywords and texts (overrides $CONTENT_FILE)"),
	}
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	slog.Debug("flags parsed",
		"apiAddr", *flags.apiAddr,
		"messenger", *flags.useMessenger,
		"twilio", *flags.useTwilio,
		"store", *flags.storeBackend,
		"dbDSN_set", *flags.dbDSN != "",
		"stateDir", *flags.stateDir,
		"workers", *flags.workers,
		"content", *flags.contentFile)
	return flags, nil
}

// validateFlags rejects configurations the bot cannot start with.
func validateFlags(flags Flags) error {
	if !*flags.useMessenger && !*flags.useTwilio {
		return errors.New("no channel enabled; enable Messenger or Twilio")
	}
	if *flags.useMessenger {
		var missing []string
		if *flags.appSecret == "" {
			missing = append(missing, "MESSENGER_APP_SECRET")
		}
		if *flags.verifyToken == "" {
			missing = append(missing, "MESSENGER_VALIDATION_TOKEN")
		}
		if *flags.pageToken == "" {
			missing = append(missing, "MESSENGER_PAGE_TOKEN")
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing Messenger configuration: %s", strings.Join(missing, ", "))
		}
	}
	if _, err := resolveBackend(flags); err != nil {
		return err
	}
	return nil
}

// resolveBackend picks the store backend: explicit, detected from the DSN, or memory.
func resolveBackend(flags Flags) (string, error) {
	backend := strings.ToLower(*flags.storeBackend)
	if backend == "" {
		switch {
		case *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) == "postgres":
			backend = BackendPostgres
		case *flags.dbDSN != "":
			backend = BackendSQLite
		case *flags.redisURL != "":
			backend = BackendRedis
		default:
			backend = BackendMemory
		}
	}
	switch backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if *flags.dbDSN == "" {
			return "", errors.New("postgres store requires DATABASE_URL")
		}
	case BackendRedis:
		if *flags.redisURL == "" {
			return "", errors.New("redis store requires REDIS_URL")
		}
	case BackendDynamoDB:
		if *flags.dynamoTable == "" {
			return "", errors.New("dynamodb store requires DYNAMODB_TABLE")
		}
	default:
		return "", fmt.Errorf("unknown store backend %q", backend)
	}
	return backend, nil
}

// buildStoreOptions constructs store configuration options for backend
func buildStoreOptions(flags Flags, backend string) []store.Option {
	storeOpts := []store.Option{store.WithTTL(*flags.stateTTL)}
	switch backend {
	case BackendPostgres:
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	case BackendSQLite:
		dsn := *flags.dbDSN
		if dsn == "" {
			dsn = filepath.Join(*flags.stateDir, DefaultDBFileName)
		}
		storeOpts = append(storeOpts, store.WithSQLiteDSN(dsn))
	case BackendRedis:
		storeOpts = append(storeOpts, store.WithRedisURL(*flags.redisURL))
	case BackendDynamoDB:
		storeOpts = append(storeOpts, store.WithDynamoTable(*flags.dynamoTable))
	}
	return storeOpts
}

// openStore opens the selected backend. For SQLite the state directory is locked
// against a second instance; the returned lock is nil otherwise.
func openStore(ctx context.Context, flags Flags) (store.Store, *lockfile.Lock, error) {
	backend, err := resolveBackend(flags)
	if err != nil {
		return nil, nil, err
	}
	opts := buildStoreOptions(flags, backend)
	slog.Info("Opening session store", "backend", backend)

	switch backend {
	case BackendSQLite:
		lock, err := lockfile.Acquire(*flags.stateDir, backend)
		if err != nil {
			return nil, nil, err
		}
		st, err := store.NewSQLiteStore(opts...)
		if err != nil {
			lock.Release()
			return nil, nil, err
		}
		return st, lock, nil
	case BackendPostgres:
		st, err := store.NewPostgresStore(opts...)
		return st, nil, err
	case BackendRedis:
		st, err := store.NewRedisStore(opts...)
		return st, nil, err
	case BackendDynamoDB:
		st, err := store.NewDynamoStoreFromEnv(ctx, opts...)
		return st, nil, err
	default:
		slog.Warn("Using in-memory store; dialog state is lost on restart")
		return store.NewInMemoryStore(), nil, nil
	}
}

// buildMessengerOptions constructs Graph API client options
func buildMessengerOptions(flags Flags, c *content.Content) []messenger.Option {
	opts := []messenger.Option{
		messenger.WithPageToken(*flags.pageToken),
		messenger.WithMoreInfoLabel(c.Labels.MoreInfo),
		messenger.WithHTTPClient(httpretry.New(nil)),
	}
	if *flags.graphURL != "" {
		opts = append(opts, messenger.WithGraphURL(*flags.graphURL))
	}
	return opts
}

// buildTwilioOptions constructs Twilio client options
func buildTwilioOptions(flags Flags) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if *flags.twilioSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(*flags.twilioSID))
	}
	if *flags.twilioToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(*flags.twilioToken))
	}
	if *flags.twilioFrom != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(*flags.twilioFrom))
	}
	return opts
}

// buildResponderDeps wires the event and weather sources
func buildResponderDeps(flags Flags) responder.Deps {
	deps := responder.Deps{WeatherCity: *flags.weatherCity}
	if *flags.eventsFeedURL != "" {
		deps.Events = events.NewFeedSource(*flags.eventsFeedURL, &http.Client{Timeout: 10 * time.Second})
	} else {
		deps.Events = events.NewAPISource(*flags.eventsAPIURL, httpretry.New(nil))
	}
	if *flags.weatherAPIKey != "" {
		deps.Weather = weather.NewClient(*flags.weatherAPIKey, *flags.weatherAPIURL, httpretry.New(nil))
	}
	return deps
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	return []api.Option{
		api.WithAddr(*flags.apiAddr),
		api.WithAppSecret(*flags.appSecret),
		api.WithVerifyToken(*flags.verifyToken),
	}
}

// run wires all modules, serves until SIGINT/SIGTERM, then drains and shuts down.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := content.Load(*flags.contentFile)
	if err != nil {
		return err
	}

	st, lock, err := openStore(ctx, flags)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
		lock.Release()
	}()

	// Redis and DynamoDB expire records natively; the other backends are swept.
	if pruner, ok := st.(store.Pruner); ok {
		sched := scheduler.NewScheduler()
		defer sched.Stop()
		if err := sched.AddJob(*flags.pruneSchedule, scheduler.PruneJob(pruner, *flags.stateTTL, nil)); err != nil {
			return fmt.Errorf("invalid prune schedule %q: %w", *flags.pruneSchedule, err)
		}
		slog.Info("Expiry sweep scheduled", "schedule", *flags.pruneSchedule, "ttl", *flags.stateTTL)
	}

	engineOpts := []dialog.Option{dialog.WithRegistrationSink(st)}
	if rs, ok := st.(*store.RedisStore); ok {
		engineOpts = append(engineOpts, dialog.WithLocker(dialog.NewRedisLocker(rs.Client(), 0, 0)))
		slog.Info("Using Redis per-user locks")
	}
	engine := dialog.NewEngine(st, c, engineOpts...)
	registry := responder.NewDefaultRegistry(c, buildResponderDeps(flags))
	handler := messaging.NewResponseHandler(engine, c.Groups, registry,
		messaging.WithWorkers(*flags.workers),
		messaging.WithDedup(st))

	apiOpts := buildAPIOptions(flags)
	var services []messaging.Service
	if *flags.useMessenger {
		client, err := messenger.NewClient(buildMessengerOptions(flags, c)...)
		if err != nil {
			return fmt.Errorf("failed to create Messenger client: %w", err)
		}
		svc := messaging.NewMessengerService(client)
		services = append(services, svc)
		apiOpts = append(apiOpts, api.WithMessenger(svc))
	}
	if *flags.useTwilio {
		client, err := twiliowhatsapp.NewClient(buildTwilioOptions(flags)...)
		if err != nil {
			return fmt.Errorf("failed to create Twilio client: %w", err)
		}
		var twOpts []messaging.TwilioOption
		if *flags.twilioToken != "" {
			validator := twiliowhatsapp.NewSignatureValidator(*flags.twilioToken)
			twOpts = append(twOpts, messaging.WithSignatureValidator(validator, *flags.twilioWebhookURL))
		}
		svc := messaging.NewTwilioService(client, twOpts...)
		services = append(services, svc)
		apiOpts = append(apiOpts, api.WithTwilioHandler(svc.TwilioWebhookHandler))
	}

	// Workers outlive the signal context so queued events are drained on shutdown.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	for _, svc := range services {
		if err := svc.Start(workCtx); err != nil {
			return fmt.Errorf("failed to start %s service: %w", svc.Channel(), err)
		}
		handler.Listen(workCtx, svc)
	}

	server := api.NewServer(apiOpts...)
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Run() }()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	for _, svc := range services {
		if err := svc.Stop(); err != nil {
			slog.Error("Failed to stop service", "channel", svc.Channel(), "error", err)
		}
	}

	drained := make(chan struct{})
	go func() {
		handler.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		slog.Info("All queued events processed")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout; abandoning queued events")
		cancelWork()
	}
	return nil
}
