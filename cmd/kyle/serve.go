package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/kyle/internal/agent"
	"github.com/nugget/kyle/internal/api"
	"github.com/nugget/kyle/internal/buildinfo"
	"github.com/nugget/kyle/internal/config"
	"github.com/nugget/kyle/internal/connwatch"
	"github.com/nugget/kyle/internal/events"
	"github.com/nugget/kyle/internal/history"
	"github.com/nugget/kyle/internal/httpkit"
	"github.com/nugget/kyle/internal/llm"
	"github.com/nugget/kyle/internal/mqtt"
	"github.com/nugget/kyle/internal/odesli"
	"github.com/nugget/kyle/internal/prompts"
	"github.com/nugget/kyle/internal/qbittorrent"
	"github.com/nugget/kyle/internal/radarr"
	"github.com/nugget/kyle/internal/slack"
	"github.com/nugget/kyle/internal/sonarr"
	"github.com/nugget/kyle/internal/tmdb"
	"github.com/nugget/kyle/internal/tools"
	"github.com/nugget/kyle/internal/ultra"
	"github.com/nugget/kyle/internal/usage"
	"github.com/nugget/kyle/internal/webhooks"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds the graceful stop of servers, in-flight turns
// and the MQTT offline message.
const shutdownTimeout = 10 * time.Second

// runServe wires every component and blocks until ctx is cancelled or
// SIGINT/SIGTERM arrives.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Kyle", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = configuredLogger(stdout, cfg)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"history_driver", cfg.History.Driver,
	)

	if cfg.Slack.BotToken == "" || cfg.Slack.AppToken == "" {
		return errors.New("slack.bot_token and slack.app_token are required to serve")
	}
	if !cfg.OpenAI.Configured() && !cfg.Anthropic.Configured() {
		return errors.New("no LLM provider configured (set openai.api_key or anthropic.api_key)")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Data directory and stores ---
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	hist, err := history.Open(cfg.History.Driver, cfg.History.Path)
	if err != nil {
		return fmt.Errorf("open history database %s: %w", cfg.History.Path, err)
	}
	defer hist.Close()
	hist.SetLogger(logger)
	logger.Info("history database opened", "path", cfg.History.Path, "driver", cfg.History.Driver)

	usageStore, err := usage.New(hist.DB(), cfg.Models.Pricing)
	if err != nil {
		return fmt.Errorf("open usage store: %w", err)
	}

	bus := events.New()
	connMgr := connwatch.NewManager(bus, logger)
	defer connMgr.Stop()

	// --- LLM ---
	llmClient := createLLMClient(cfg, logger)
	watch(ctx, connMgr, "llm", llmClient.Ping, logger)

	// --- Slack ---
	sl := slack.NewClient(cfg.Slack.BaseURL, cfg.Slack.BotToken, cfg.Slack.AppToken, logger)
	botUserID := cfg.Bot.UserID
	if botUserID == "" {
		authCtx, authCancel := context.WithTimeout(ctx, 15*time.Second)
		botUserID, err = sl.AuthTest(authCtx)
		authCancel()
		if err != nil {
			return fmt.Errorf("slack auth.test: %w", err)
		}
		logger.Info("slack bot identity resolved", "bot_user_id", botUserID)
	}
	watch(ctx, connMgr, "slack", func(pCtx context.Context) error {
		_, err := sl.AuthTest(pCtx)
		return err
	}, logger)

	status := slack.NewStatusNotifier(sl, logger)
	defer status.Close()
	streamer := slack.NewStreamer(sl, prompts.EmptyResponseFallback, logger)

	// --- Tools ---
	reg := tools.NewRegistry(logger)
	reg.SetRecorder(hist)
	reg.SetStatusNotifier(status)
	reg.SetEventBus(bus)
	if err := registerServices(ctx, cfg, reg, connMgr, logger); err != nil {
		return err
	}
	logger.Info("tools registered", "count", len(reg.Names()), "tools", reg.Names())

	// --- Agent loop ---
	var statusGen agent.StatusGenerator
	if cfg.Slack.GenerateStatus {
		statusGen = agent.NewLLMStatus(llmClient, cfg.Models.Status, cfg.Models.ProviderFor(cfg.Models.Status), usageStore, logger)
	}
	loop := agent.NewLoop(agent.Config{
		BotName:   cfg.Bot.Name,
		BotUserID: botUserID,
		Model:     cfg.Models.Default,
		Provider:  cfg.Models.ProviderFor(cfg.Models.Default),
		MaxSteps:  cfg.Bot.MaxSteps,
		LLM:       llmClient,
		Tools:     reg,
		Streamer:  streamer,
		Context:   agent.NewCompositeContextProvider(logger, agent.NewToolHistoryProvider(hist)),
		Status:    status,
		StatusGen: statusGen,
		Usage:     usageStore,
		Bus:       bus,
		Logger:    logger,
	})

	bridge := slack.NewBridge(slack.BridgeConfig{
		BotUserID: botUserID,
		Builder:   slack.NewContextBuilder(sl, botUserID, cfg.Bot.Name, cfg.Bot.HistoryLimit, logger),
		Runner:    loop,
		Streamer:  streamer,
		Status:    status,
		Bus:       bus,
		Logger:    logger,
		Timeout:   time.Duration(cfg.Bot.TurnTimeoutSec) * time.Second,
		RateLimit: cfg.Bot.RateLimit,
	})
	socket := slack.NewSocketMode(slack.SocketModeConfig{
		Connector: sl,
		Handler:   bridge.HandleEvent,
		Bus:       bus,
		Backoff:   connwatch.DefaultBackoffConfig(),
		Logger:    logger,
	})

	// --- Webhooks and operational API ---
	notifier := webhooks.NewNotifier(webhooks.NotifierConfig{
		BotName:    cfg.Bot.Name,
		Model:      cfg.Models.Notification,
		Provider:   cfg.Models.ProviderFor(cfg.Models.Notification),
		Requesters: hist,
		Poster:     sl,
		LLM:        llmClient,
		Usage:      usageStore,
		Bus:        bus,
		Logger:     logger,
	})
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, logger)
	server.SetHistoryStore(hist)
	server.SetUsageStore(usageStore)
	server.SetHealthReporter(connMgr)
	server.Mount(webhooks.NewHandler(notifier, cfg.Webhooks.Username, cfg.Webhooks.PasswordHash, logger))

	// --- MQTT ---
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		clientID, err := mqtt.ClientID(cfg.MQTT.ClientID, cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt client id: %w", err)
		}
		mqttPub = mqtt.New(cfg.MQTT, clientID, bus, logger)
		watch(ctx, connMgr, "mqtt", func(pCtx context.Context) error {
			awaitCtx, awaitCancel := context.WithTimeout(pCtx, 2*time.Second)
			defer awaitCancel()
			return mqttPub.AwaitConnection(awaitCtx)
		}, logger)
		logger.Info("mqtt mirroring enabled", "broker", cfg.MQTT.Broker, "topic_prefix", cfg.MQTT.TopicPrefix)
	} else {
		logger.Info("mqtt mirroring disabled (not configured)")
	}

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return socket.Run(gctx)
	})
	g.Go(func() error {
		if err := server.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	if mqttPub != nil {
		g.Go(func() error {
			if err := mqttPub.Start(gctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("api server shutdown failed", "error", err)
		}
		if mqttPub != nil {
			if err := mqttPub.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		return nil
	})

	err = g.Wait()
	bridge.Wait()
	if err != nil {
		return err
	}
	logger.Info("Kyle stopped")
	return nil
}

// createLLMClient builds a multi-provider client. Models route by their
// configured provider; unknown models go to the default model's
// provider.
func createLLMClient(cfg *config.Config, logger *slog.Logger) *llm.MultiClient {
	providers := map[string]llm.Client{}
	if cfg.OpenAI.Configured() {
		providers["openai"] = llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, logger)
	}
	if cfg.Anthropic.Configured() {
		providers["anthropic"] = llm.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, logger)
	}

	defaultProvider := cfg.Models.ProviderFor(cfg.Models.Default)
	fallback, ok := providers[defaultProvider]
	if !ok {
		for name, c := range providers {
			defaultProvider, fallback = name, c
			break
		}
	}

	multi := llm.NewMultiClient(fallback)
	for name, c := range providers {
		multi.AddProvider(name, c)
	}
	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
	}
	logger.Info("LLM client initialized",
		"default_model", cfg.Models.Default, "default_provider", defaultProvider, "providers", len(providers))
	return multi
}

// serviceHTTPClient is the shared outbound client for one upstream.
func serviceHTTPClient(insecure bool, logger *slog.Logger, opts ...httpkit.ClientOption) *http.Client {
	opts = append(opts, httpkit.WithLogger(logger), httpkit.WithUserAgent(buildinfo.UserAgent()))
	if insecure {
		opts = append(opts, httpkit.WithTLSInsecureSkipVerify())
	}
	return httpkit.NewClient(opts...)
}

// registerServices adds the tools of every configured upstream and
// watches its health. Unconfigured services are skipped with a log
// line; their tools are simply absent.
func registerServices(ctx context.Context, cfg *config.Config, reg *tools.Registry, connMgr *connwatch.Manager, logger *slog.Logger) error {
	if cfg.Radarr.Configured() {
		c := radarr.NewClient(cfg.Radarr.URL, cfg.Radarr.APIKey, serviceHTTPClient(cfg.Radarr.InsecureSkipVerify, logger), logger)
		radarr.Register(reg, c)
		watch(ctx, connMgr, "radarr", c.Ping, logger)
	} else {
		logger.Info("radarr not configured, movie tools disabled")
	}

	if cfg.Sonarr.Configured() {
		c := sonarr.NewClient(cfg.Sonarr.URL, cfg.Sonarr.APIKey, serviceHTTPClient(cfg.Sonarr.InsecureSkipVerify, logger), logger)
		sonarr.Register(reg, c)
		watch(ctx, connMgr, "sonarr", c.Ping, logger)
	} else {
		logger.Info("sonarr not configured, series tools disabled")
	}

	if cfg.TMDB.Configured() {
		c := tmdb.NewClient(cfg.TMDB.BaseURL, cfg.TMDB.APIToken, serviceHTTPClient(false, logger), logger)
		tmdb.Register(reg, c)
		watch(ctx, connMgr, "tmdb", c.Ping, logger)
	} else {
		logger.Info("tmdb not configured, discovery tools disabled")
	}

	if cfg.QBittorrent.Configured() {
		c, err := qbittorrent.NewClient(cfg.QBittorrent.URL, cfg.QBittorrent.Username, cfg.QBittorrent.Password, nil, logger)
		if err != nil {
			return fmt.Errorf("qbittorrent client: %w", err)
		}
		qbittorrent.Register(reg, c)
		watch(ctx, connMgr, "qbittorrent", c.Ping, logger)
	} else {
		logger.Info("qbittorrent not configured, torrent tools disabled")
	}

	if cfg.Ultra.Configured() {
		c := ultra.NewClient(cfg.Ultra.URL, cfg.Ultra.APIToken, serviceHTTPClient(false, logger), logger)
		ultra.Register(reg, c)
		watch(ctx, connMgr, "ultra", c.Ping, logger)
	}

	if cfg.Odesli.Enabled {
		c := odesli.NewClient(cfg.Odesli.BaseURL, cfg.Odesli.APIKey, cfg.Odesli.UserCountry, serviceHTTPClient(false, logger), logger)
		odesli.Register(reg, c)
	}
	return nil
}

// watch registers a health watcher with the default backoff.
func watch(ctx context.Context, mgr *connwatch.Manager, name string, probe connwatch.ProbeFunc, logger *slog.Logger) {
	mgr.Watch(ctx, connwatch.WatcherConfig{
		Name:    name,
		Probe:   probe,
		Backoff: connwatch.DefaultBackoffConfig(),
		Logger:  logger,
	})
}
