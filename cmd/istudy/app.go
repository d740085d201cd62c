package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/sqb-ai/istudy/internal/agent"
	"github.com/sqb-ai/istudy/internal/ai"
	"github.com/sqb-ai/istudy/internal/content"
	"github.com/sqb-ai/istudy/internal/events"
	"github.com/sqb-ai/istudy/internal/kv"
	"github.com/sqb-ai/istudy/internal/learner"
	"github.com/sqb-ai/istudy/internal/platform/cache"
	"github.com/sqb-ai/istudy/internal/platform/config"
	"github.com/sqb-ai/istudy/internal/platform/database"
	"github.com/sqb-ai/istudy/internal/roster"
	"github.com/sqb-ai/istudy/internal/session"
)

// app holds the wired platform for one command invocation.
type app struct {
	cfg    *config.Config
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	store     kv.Store
	roster    *roster.Roster
	content   *content.Repository
	session   *session.Router
	events    events.Logger
	router    *ai.Router
	assistant *agent.Assistant
	quota     ai.Quota
	db        *database.DB
	rdb       *cache.Cache

	closers []func()
}

// newApp opens the configured backend and wires the services. On failure
// every connection opened so far is closed again.
func newApp(ctx context.Context, cfg *config.Config, in io.Reader, out, errOut io.Writer) (_ *app, err error) {
	a := &app{cfg: cfg, in: in, out: out, errOut: errOut, events: events.NopLogger{}}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var db *database.DB
	var rdb *cache.Cache
	switch cfg.Store.Backend {
	case config.BackendFile:
		fileStore, err := kv.OpenFile(cfg.Store.FilePath)
		if err != nil {
			return nil, err
		}
		a.store = fileStore
	case config.BackendMemory:
		a.store = kv.NewMemoryStore()
	case config.BackendRedis:
		rdb, err = cache.Open(ctx, cfg.Cache)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.store = kv.NewRedisStore(rdb.Client, cfg.Store.KeyPrefix)
	case config.BackendPostgres:
		db, err = database.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(ctx, schema()...); err != nil {
			return nil, err
		}
		a.store = kv.NewPostgresStore(db.Pool)
		a.events = events.NewPostgresLogger(db.Pool)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	seed, err := content.LoadSeed(cfg.SeedPath)
	if err != nil {
		return nil, err
	}
	a.roster, err = roster.New(ctx, a.store)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.roster.Subscribe(func(c roster.Change) {
		slog.Debug("roster changed", "kind", c.Kind, "user_email", c.Email)
	}))
	a.content, err = content.Open(ctx, a.store, a.roster, seed)
	if err != nil {
		return nil, err
	}
	a.session = session.New(a.store, a.roster, cfg.Admin)

	a.router, err = a.buildRouter(ctx)
	if err != nil {
		return nil, err
	}

	var conversations agent.ConversationStore = agent.NewMemoryStore()
	if db != nil {
		conversations, err = agent.NewPostgresStore(db.Pool)
		if err != nil {
			return nil, err
		}
	}

	var quota ai.Quota
	if cfg.AI.QuotaTokens > 0 {
		if rdb != nil {
			quota = ai.NewRedisQuota(rdb.Client, cfg.Store.KeyPrefix, cfg.AI.QuotaTokens)
		} else {
			quota = ai.NewInMemoryQuota(cfg.AI.QuotaTokens)
		}
	}

	a.db, a.rdb, a.quota = db, rdb, quota
	a.assistant = agent.NewAssistant(agent.AssistantConfig{
		Provider: a.router,
		Store:    conversations,
		Quota:    quota,
		Events:   a.events,
	})
	return a, nil
}

// schema is every table the postgres backend needs.
func schema() []string {
	s := []string{kv.Schema}
	s = append(s, events.Schema...)
	s = append(s, agent.Schema...)
	return s
}

// buildRouter registers the configured providers in fallback order.
func (a *app) buildRouter(ctx context.Context) (*ai.Router, error) {
	cfg := a.cfg.AI
	router := ai.NewRouter()

	if cfg.OpenAI.APIKey != "" {
		opts := []ai.OpenAIOption{ai.WithBaseURL(cfg.OpenAI.BaseURL), ai.WithModel(cfg.OpenAI.Model)}
		if cfg.OpenAI.AssistantID != "" {
			router.Register("openai", ai.NewAssistantsProvider(cfg.OpenAI.APIKey, cfg.OpenAI.AssistantID,
				cfg.PollInterval, cfg.PollAttempts, opts...))
		} else {
			router.Register("openai", ai.NewOpenAIProvider(cfg.OpenAI.APIKey, opts...))
		}
	}
	if cfg.DeepSeek.APIKey != "" {
		router.Register("deepseek", ai.NewDeepSeekProvider(cfg.DeepSeek.APIKey))
	}
	if cfg.Google.APIKey != "" {
		gemini, err := ai.NewGeminiProvider(ctx, cfg.Google.APIKey, cfg.Google.Model)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = gemini.Close() })
		router.Register("google", gemini)
	}

	if !router.HasProvider() {
		slog.Debug("no AI provider configured, assistant replies will fail")
	} else {
		slog.Debug("AI providers registered", "providers", router.Names())
	}
	return router, nil
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// dashboard opens the signed-in learner's dashboard.
func (a *app) dashboard(ctx context.Context, s session.Session) (*learner.Dashboard, error) {
	return learner.Open(ctx, learner.Deps{
		Store:   a.store,
		Roster:  a.roster,
		Content: a.content,
		Events:  a.events,
	}, s)
}
