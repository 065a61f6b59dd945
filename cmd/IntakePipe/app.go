package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/api"
	"github.com/BTreeMap/IntakePipe/internal/chancontext"
	"github.com/BTreeMap/IntakePipe/internal/directory"
	"github.com/BTreeMap/IntakePipe/internal/engine"
	"github.com/BTreeMap/IntakePipe/internal/finalize"
	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/graph"
	"github.com/BTreeMap/IntakePipe/internal/lockfile"
	"github.com/BTreeMap/IntakePipe/internal/messaging"
	"github.com/BTreeMap/IntakePipe/internal/notion"
	"github.com/BTreeMap/IntakePipe/internal/session"
	"github.com/BTreeMap/IntakePipe/internal/slackapi"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// app is the wired process.
type app struct {
	server     *api.Server
	dispatcher *messaging.Dispatcher
	store      store.Store
	lock       *lockfile.Lock
}

func run(config Config) error {
	a, err := bootstrap(context.Background(), config)
	if err != nil {
		return err
	}
	defer a.close()

	if config.Lambda {
		a.server.StartLambda()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go store.NewPruner(a.store, time.Hour, DefaultDedupRetention).Run(ctx)
	return a.server.ListenAndServe(ctx)
}

func bootstrap(ctx context.Context, config Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	if !config.Lambda && store.DetectDSNType(config.DatabaseDSN) == "sqlite" {
		lock, err := lockfile.AcquireLock(config.StateDir)
		if err != nil {
			return nil, err
		}
		a.lock = lock
	}

	st, err := store.Open(config.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.store = st

	chat, err := slackapi.NewClient(buildSlackOptions(config)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Slack client: %w", err)
	}
	botID, err := chat.BotUserID(ctx)
	if err != nil {
		slog.Warn("bootstrap: could not resolve bot user id", "error", err)
	}

	flows, err := loadFlows(config)
	if err != nil {
		return nil, err
	}

	contexts := chancontext.NewCache(config.ChannelContextTTL)
	folders := newGraphClient(config)
	engineOpts := []engine.Option{engine.WithNotifier(chat)}
	if records, err := notion.NewStore(buildNotionOptions(config)...); err != nil {
		slog.Warn("bootstrap: Notion not configured, intakes are disabled", "error", err)
	} else {
		people := directory.NewCache(records)
		finalizeOpts := []finalize.Option{
			finalize.WithPeople(people),
			finalize.WithChannelContext(contexts),
			finalize.WithDefaultMembers(config.DefaultMembers),
		}
		if folders != nil {
			finalizeOpts = append(finalizeOpts, finalize.WithFolders(folders))
		}
		pipeline := finalize.New(records, chat, finalizeOpts...)
		engineOpts = append(engineOpts,
			engine.WithFinalizer(pipeline),
			engine.WithHinter(people, directory.DefaultHintLimit))
	}
	eng := engine.New(flows, session.NewInMemoryStore(), chat, engineOpts...)

	if config.Lambda {
		a.dispatcher = messaging.NewInlineDispatcher()
	} else {
		a.dispatcher = messaging.NewDispatcher(config.Workers, messaging.DefaultQueueSize)
	}

	routerOpts := []messaging.RouterOption{
		messaging.WithDedup(st),
		messaging.WithBotUserID(botID),
	}
	if folders != nil {
		prompter := messaging.NewFilePrompter(chat, folders, contexts, chancontext.NewPromptedFiles(chancontext.DefaultPromptedCap))
		routerOpts = append(routerOpts, messaging.WithFilePrompter(prompter))
	}
	router := messaging.NewRouter(eng, flows, chat, a.dispatcher, routerOpts...)

	a.server = api.NewServer(router, buildAPIOptions(config)...)
	slog.Info("bootstrap: IntakePipe ready", "flows", flows.Commands(), "addr", a.server.Addr(), "bot", botID)
	ok = true
	return a, nil
}

func loadFlows(config Config) (*flow.Registry, error) {
	cfg := buildFlowConfig(config)
	if config.FlowsFile != "" {
		reg, err := flow.LoadFile(config.FlowsFile, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load flows from %s: %w", config.FlowsFile, err)
		}
		return reg, nil
	}
	reg, err := flow.Default(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load default flows: %w", err)
	}
	return reg, nil
}

// newGraphClient returns nil when Graph is not configured, so callers never
// hold a typed nil behind an interface.
func newGraphClient(config Config) *graph.Client {
	if !config.graphConfigured() {
		return nil
	}
	c, err := graph.NewClient(buildGraphOptions(config)...)
	if err != nil {
		slog.Warn("bootstrap: Graph client unavailable, folders fall back to placeholders", "error", err)
		return nil
	}
	return c
}

func (a *app) close() {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("app.close: store close failed", "error", err)
		}
	}
	if a.lock != nil {
		a.lock.Release()
	}
}
