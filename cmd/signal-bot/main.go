package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/infrawatch/signal-bot/internal/bot"
	"github.com/infrawatch/signal-bot/internal/broadcast"
	"github.com/infrawatch/signal-bot/internal/config"
	"github.com/infrawatch/signal-bot/internal/fetch"
	"github.com/infrawatch/signal-bot/internal/llm"
	"github.com/infrawatch/signal-bot/internal/observability"
	"github.com/infrawatch/signal-bot/internal/pipeline"
	"github.com/infrawatch/signal-bot/internal/scheduler"
	"github.com/infrawatch/signal-bot/internal/storage"
)

func main() {
	mode := flag.String("mode", "all", "Service mode (pipeline, bot, all)")

	flag.Parse()

	env, err := config.LoadEnv()
	if err != nil {
		log.Fatalf("failed to load environment: %v", err)
	}

	logger := newLogger(env)

	loc, err := time.LoadLocation(env.AppTimezone)
	if err != nil {
		logger.Fatal().Err(err).Str("timezone", env.AppTimezone).Msg("invalid timezone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := storage.New(ctx, env.PostgresDSN, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	base, err := config.LoadApp(env.ConfigPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", env.ConfigPath).Msg("failed to load config")
	}

	runtime := config.NewRuntime(base, database, logger)
	if _, err := runtime.Reload(ctx); err != nil {
		logger.Warn().Err(err).Msg("config overrides unavailable, using file defaults")
	}

	cfg := runtime.Current()

	api, err := tgbotapi.NewBotAPI(env.BotToken)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create telegram client")
	}

	llmClient := llm.New(env, cfg.LLMThrottle, database, loc, logger)
	fetcher := fetch.New(cfg.HTTP, database, logger)
	broadcaster := broadcast.New(api, database, cfg.Broadcast.MessagesPerSecond, env.AdminChatID, logger)

	pipe := pipeline.New(database, fetcher, llmClient, broadcaster, runtime, loc, logger)

	var cycles bot.CycleRunner
	if *mode != "bot" {
		cycles = pipe
	}

	tgBot := bot.New(api, database, runtime, llmClient, cycles, env.AdminChatID, loc, logger)
	sched := scheduler.New(pipe, database, tgBot, broadcaster, runtime, loc, env.AdminChatID, logger)
	health := observability.NewServer(database, llmClient, loc, env.HealthPort, logger)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error { return health.Start(ctx) })

	switch *mode {
	case "pipeline":
		group.Go(func() error { return sched.Run(ctx) })
	case "bot":
		group.Go(func() error { return tgBot.Run(ctx) })
	case "all":
		group.Go(func() error { return sched.Run(ctx) })
		group.Go(func() error { return tgBot.Run(ctx) })
	default:
		logger.Fatal().Str("mode", *mode).Msg("unknown mode, expected pipeline, bot or all")
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("service error")
	}

	logger.Info().Msg("service stopped")
}

func newLogger(env *config.Env) zerolog.Logger {
	level, err := zerolog.ParseLevel(env.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if env.AppEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
