package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/config"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/datasource"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/engine"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/eventbus"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/execution"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/executor"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/markets"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/nodes"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/orchestrator"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/signals"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/storage"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/watchlist"
)

const escalationStream = "escalations"

func main() {
	// Setup logger
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	log.Info().Msg("Starting Workflow Runner...")

	configPath := os.Getenv("WORKFLOW_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	// Setup storage
	store, err := storage.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	// Setup live signal stream
	var (
		bus    *eventbus.RedisEventBus
		stream watchlist.LiveStream
	)
	switch cfg.LiveStream.Kind {
	case config.StreamRedis:
		bus, err = eventbus.NewRedisEventBus(cfg.Redis.Host, cfg.Redis.Port)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer bus.Close()
		stream = bus
	case config.StreamWebSocket:
		stream = eventbus.NewWebSocketStream(cfg.LiveStream.WebSocketURL)
	default:
		log.Warn().Msg("No live stream configured, watched markets will not escalate")
	}

	manager := watchlist.NewManager(store, stream, watchlist.DefaultEscalationConfig())
	manager.OnReady(func(ctx context.Context, item types.WatchlistItem, event types.LiveEvent, result watchlist.EscalationResult) {
		if bus == nil {
			return
		}
		err := bus.Publish(ctx, escalationStream, string(result.Level), map[string]interface{}{
			"strategy_id":  item.StrategyID,
			"market_id":    item.ItemID,
			"reason":       result.Reason,
			"event_id":     event.ID,
			"event_type":   string(event.Type),
			"event_side":   event.Side,
			"triggered_at": event.Timestamp,
		})
		if err != nil {
			log.Error().Err(err).Str("market", item.ItemID).Msg("Failed to publish escalation")
		}
	})

	// Setup decision engine
	analyzer, err := orchestrator.NewLLMAnalyzer(
		orchestrator.NewHTTPCompleter(cfg.Analysis.CompletionURL, time.Duration(cfg.Analysis.TimeoutSeconds)*time.Second),
		cfg.Analysis.RatePerMinute,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build analyzer")
	}
	orch := orchestrator.NewEngine(
		store,
		analyzer,
		orchestrator.NewPaperPortfolio(store, cfg.Paper.BankrollUSD),
		executor.NewPaper(store, cfg.Paper.SlippageBps),
		executor.NewVenue(cfg.Venue.PredictAccountURL, cfg.Venue.PolymarketAccountURL, cfg.DryRun),
	).WithDefaults(cfg.Orchestrator.MaxConcurrency, cfg.Analysis.TimeoutSeconds).WithAccount(cfg.Venue.AccountID)

	// Create engine and register node handlers
	eng := engine.NewEngine()
	if err := nodes.RegisterAll(eng, &nodes.Handlers{
		Source:       datasource.NewFileSource(cfg.Workflow.DataDir),
		Watchlist:    manager,
		Orchestrator: orch,
		Signals:      signals.NewEvaluator(signals.FieldProvider{}),
		Markets:      markets.NewFilter(),
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register node handlers")
	}

	wf, err := engine.LoadWorkflow(cfg.Workflow.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Workflow.Path).Msg("Failed to load workflow")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ec := execution.NewContext(wf.ID, wf.StrategyID, cfg.Workflow.UserID)
	if _, err := manager.Resume(ctx, ec); err != nil {
		log.Error().Err(err).Msg("Failed to resume watchlist")
	}

	runPass := func() {
		report, err := eng.Run(ctx, ec, wf)
		if err != nil {
			log.Error().Err(err).Str("workflow", wf.ID).Int("nodes_run", len(report.Results)).Msg("Workflow pass failed")
			return
		}
		log.Info().Str("workflow", wf.ID).Int("records", len(report.Records)).Dur("duration", report.Duration).Msg("Workflow pass finished")
	}

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	id, err := scheduler.AddFunc(cfg.Workflow.Schedule, runPass)
	if err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Workflow.Schedule).Msg("Invalid workflow schedule")
	}
	scheduler.Start()
	go scheduler.Entry(id).WrappedJob.Run()

	log.Info().Str("workflow", wf.ID).Str("schedule", cfg.Workflow.Schedule).Msg("Workflow Runner started")

	// Wait for interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down...")
	cancel()
	<-scheduler.Stop().Done()
	ec.Close()
}
