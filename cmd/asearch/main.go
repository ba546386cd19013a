package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/aspect-cloud/asearch/internal/bot"
	"github.com/aspect-cloud/asearch/internal/committee"
	"github.com/aspect-cloud/asearch/internal/config"
	"github.com/aspect-cloud/asearch/internal/history"
	"github.com/aspect-cloud/asearch/internal/keypool"
	"github.com/aspect-cloud/asearch/internal/messenger"
	"github.com/aspect-cloud/asearch/internal/provider/gemini"
	"github.com/aspect-cloud/asearch/internal/search"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		runSetup()
		return
	}

	configPath := flag.String("config", "asearch.json", "path to the config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger := newLogger(*debug)
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// newLogger picks a human-readable handler on a terminal and JSON
// otherwise, so service logs stay machine-parseable.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	pool, err := keypool.New(cfg.Gemini.APIKeys,
		keypool.WithCooldown(time.Duration(cfg.Gemini.CooldownSeconds)*time.Second),
		keypool.WithLogger(logger.With("component", "keypool")),
	)
	if err != nil {
		return fmt.Errorf("build credential pool: %w", err)
	}

	clientOpts := []gemini.Option{
		gemini.WithChunkLimit(cfg.Gemini.ChunkLimit),
		gemini.WithLogger(logger.With("component", "gemini")),
	}
	if cfg.Gemini.BaseURL != "" {
		clientOpts = append(clientOpts, gemini.WithBaseURL(cfg.Gemini.BaseURL))
	}
	client := gemini.NewClient(clientOpts...)

	store, err := history.Open(cfg.Database.Path,
		history.WithMaxTurns(cfg.Database.MaxHistoryTurns),
		history.WithLogger(logger.With("component", "history")),
	)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	completer := bot.NewRotatingCompleter(pool, client, logger.With("component", "completer"))
	searcher := search.NewClient(search.WithLogger(logger.With("component", "search")))

	params := make(map[committee.Mode]committee.ModeParams, len(cfg.Modes))
	for name, mc := range cfg.Modes {
		params[committee.Mode(name)] = committee.ModeParams{
			Model:      mc.Model,
			Generation: generation(mc),
		}
	}
	synth := make(map[committee.Mode]string, len(cfg.Prompts.Synthesizer))
	for name, prompt := range cfg.Prompts.Synthesizer {
		synth[committee.Mode(name)] = prompt
	}

	bridge := committee.NewBridge(completer, searcher, logger.With("component", "bridge"))
	orch := committee.NewOrchestrator(completer, bridge, cfg.Experts, synth, params,
		committee.WithLogger(logger.With("component", "committee")))

	slack := messenger.NewSlack(cfg.Slack.BotToken, cfg.Slack.AppToken, cfg.Slack.ChannelID)
	slack.OnConnectionEvent(func(state messenger.ConnectionState) {
		logger.Info("messenger state changed", "state", state.String())
	})

	b := bot.New(bot.Deps{
		Messenger:    slack,
		Store:        store,
		Completer:    completer,
		Orchestrator: orch,
		Files:        client,
		Pool:         pool,
		Modes:        params,
		FastPrompt:   cfg.Prompts.Fast,
		ChunkLimit:   cfg.Gemini.ChunkLimit,
		Logger:       logger.With("component", "bot"),
	})

	if err := b.Start(); err != nil {
		return fmt.Errorf("start bot: %w", err)
	}
	logger.Info("asearch running", "keys", pool.Size(), "experts", len(cfg.Experts))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutting down", "signal", s.String())
	b.Stop()
	return nil
}

func generation(mc config.ModeConfig) *gemini.GenerationConfig {
	if mc.Temperature == nil && mc.TopP == nil && mc.MaxOutputTokens == nil {
		return nil
	}
	return &gemini.GenerationConfig{
		Temperature:     mc.Temperature,
		TopP:            mc.TopP,
		MaxOutputTokens: mc.MaxOutputTokens,
	}
}
