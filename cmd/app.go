package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/askbot/internal/api"
	"github.com/askbot/internal/api/auth"
	"github.com/askbot/internal/chat"
	"github.com/askbot/internal/config"
	"github.com/askbot/internal/conversation"
	"github.com/askbot/internal/database"
	"github.com/askbot/internal/embedding"
	"github.com/askbot/internal/graph"
	"github.com/askbot/internal/guard"
	"github.com/askbot/internal/jobqueue"
	"github.com/askbot/internal/llm"
	"github.com/askbot/internal/logging"
	"github.com/askbot/internal/redact"
	"github.com/askbot/internal/responses"
	"github.com/askbot/internal/slack"
	"github.com/askbot/internal/tasks"
)

// app holds every long-lived component built from the configuration
type app struct {
	cfg *config.Config

	db    *sql.DB
	pool  *pgxpool.Pool
	redis redis.UniversalClient

	conversations conversation.Store
	graph         *graph.Graph
	chat          *chat.Service
	slack         *slack.Client

	runner *tasks.Runner
	queue  *jobqueue.JobQueue
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	model, err := llm.NewModel(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	embedder, err := llm.NewEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}

	vectors := embedding.NewGenerator(embedder, cfg.Embedding.Dimensions)

	var responseStore responses.Store
	if cfg.Database.URL != "" {
		if a.db, err = database.NewDB(ctx, cfg.Database.URL); err != nil {
			return nil, err
		}
		if err = database.Bootstrap(ctx, a.db, vectors.Dimensions()); err != nil {
			return nil, err
		}
		responseStore = responses.NewPostgresStore(a.db)
		a.conversations = conversation.NewPostgresStore(a.db)
	} else {
		log.Warn().Msg("No database configured, using in-memory stores")
		responseStore = responses.NewInMemoryStore()
		a.conversations = conversation.NewInMemoryStore()
	}

	checkpointer, err := a.checkpointer()
	if err != nil {
		return nil, err
	}

	var rewriters []redact.Rewriter
	if cfg.Security.RedactSecrets {
		secrets, err := redact.New()
		if err != nil {
			return nil, err
		}
		rewriters = append(rewriters, secrets)
	}
	if cfg.Security.DeidentifyPII {
		pii, err := redact.NewPII(cfg.Security.PIIKey)
		if err != nil {
			return nil, err
		}
		rewriters = append(rewriters, pii)
	}
	scrubber := redact.NewChain(rewriters...)

	a.slack = slack.NewClient(cfg.Slack)

	cache := responses.NewCache(responseStore, cfg.Cache.SimilarityThreshold)
	log.Info().Int("dimensions", vectors.Dimensions()).Float64("similarity_threshold", cache.Threshold()).Msg("Response cache configured")

	a.graph, err = graph.New(graph.Config{
		Vectors:      vectors,
		Cache:        cache,
		Responses:    responseStore,
		Model:        llm.NewChatModel(model, llm.WithTemperature(cfg.LLM.Temperature), llm.WithTimeout(cfg.LLM.Timeout)),
		Summarizer:   llm.NewSummarizer(model, cfg.LLM.Timeout),
		Files:        a.slack,
		Scrubber:     scrubber,
		Checkpointer: checkpointer,
	})
	if err != nil {
		return nil, err
	}

	opts := []chat.Option{chat.WithSlack(a.slack), chat.WithScrubber(scrubber)}
	if cfg.Security.PromptGuard {
		opts = append(opts, chat.WithGuard(guard.New()))
	}
	a.chat = chat.NewService(a.conversations, a.graph, opts...)
	return a, nil
}

func (a *app) checkpointer() (graph.Checkpointer, error) {
	switch a.cfg.Checkpoint.Driver {
	case "postgres":
		if a.db == nil {
			return nil, errors.New("postgres checkpointer requires a database url")
		}
		return graph.NewPostgresCheckpointer(a.db), nil
	case "redis":
		a.redis = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{a.cfg.Checkpoint.RedisAddr}})
		return graph.NewRedisCheckpointer(a.redis, a.cfg.Checkpoint.TTL), nil
	default:
		return graph.NewMemoryCheckpointer(), nil
	}
}

// dispatcher starts the configured background driver
func (a *app) dispatcher(ctx context.Context) (api.Dispatcher, error) {
	if a.cfg.Background.Driver != "river" {
		a.runner = tasks.NewRunner(a.cfg.Background.Workers, log.Logger)
		return chat.NewRunnerDispatcher(a.runner, a.chat), nil
	}

	pool, err := database.NewPool(ctx, a.cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	a.pool = pool

	queue, err := jobqueue.NewJobQueue(pool, a.chat, jobqueue.DefaultQueueConfig().WithWorkers(a.cfg.Background.Workers))
	if err != nil {
		return nil, err
	}
	if err := queue.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start job queue: %w", err)
	}
	a.queue = queue
	return queue, nil
}

func (a *app) server(dispatcher api.Dispatcher) *api.Server {
	cfg := api.ServerConfig{
		Port:          a.cfg.Server.Port,
		SigningSecret: a.cfg.Slack.SigningSecret,
		AppID:         a.cfg.Slack.AppID,
		Chat:          a.chat,
		Dispatcher:    dispatcher,
	}
	if a.cfg.Server.JWTSecret != "" {
		cfg.Tokens = auth.NewTokenService(a.cfg.Server.JWTSecret)
	} else {
		log.Warn().Msg("server.jwt_secret is not set, web chat API disabled")
	}
	return api.NewServer(cfg)
}

// Close drains background work and releases connections
func (a *app) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if a.runner != nil {
		if err := a.runner.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("Background tasks did not finish")
		}
	}
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("Job queue did not stop cleanly")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
