package cli

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"

	"history-quiz-engine/internal/app"
	"history-quiz-engine/internal/config"
	"history-quiz-engine/internal/domain"
	"history-quiz-engine/internal/infra/memory"
	pgstore "history-quiz-engine/internal/infra/postgres"
	redisinfra "history-quiz-engine/internal/infra/redis"
	"history-quiz-engine/internal/infra/snapshot"
	transport "history-quiz-engine/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the engine server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz engine server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := buildLogger(cfg.Server.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var store app.DataStore
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bundb := bun.NewDB(sqldb, pgdialect.New())
		defer bundb.Close()

		store = pgstore.NewStore(bundb, pgstore.NewQuestionLoader(pool))
	} else {
		log.Info("no postgres configured, running on seeded memory store")
		store = memory.NewDataStore(sampleContent())
	}

	topicTTL := config.Duration(cfg.Quiz.TopicCacheTTL, 5*time.Minute)
	sweepInterval := config.Duration(cfg.Quiz.CacheSweepInterval, time.Minute)

	// Background workers (cache sweep, snapshot loop) stop on shutdownCtx.
	shutdownCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var topics app.TopicRepository
	if redisClient != nil {
		topics = redisinfra.NewTopicRepository(redisClient, store, topicTTL)
	} else {
		memTopics := memory.NewTopicRepository(store, topicTTL)
		go memTopics.Sweep(shutdownCtx, sweepInterval)
		topics = memTopics
	}

	var notifier app.Notifier
	if redisClient != nil {
		notifier = redisinfra.NewNotifier(redisClient, cfg.Notify.OutboxKey)
	} else {
		notifier = memory.NewLogNotifier(log)
	}

	sessions := memory.NewSessionStore()

	snapshotDir := cfg.Snapshot.Dir
	if snapshotDir == "" {
		snapshotDir = "data/quiz_state"
	}
	snapshotInterval := config.Duration(cfg.Snapshot.Interval, 30*time.Second)
	snapshots := snapshot.NewStore(snapshotDir, sessions, snapshotInterval, log)

	// Restore runs before the engine serves anything, so there is no live
	// writer to race with.
	if _, err := snapshots.Restore(); err != nil {
		log.Error("session restore failed", zap.Error(err))
	}
	snapshotDone := make(chan struct{})
	go func() {
		defer close(snapshotDone)
		snapshots.Run(shutdownCtx)
	}()

	engine := app.NewEngine(sessions, store, topics, notifier, log, cfg.Quiz.DefaultQuestionCount)
	wsHandler := transport.NewWSHandler(engine, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting quiz engine", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down")
	case <-ctx.Done():
		log.Info("context canceled, shutting down")
	}

	serverCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(serverCtx); err != nil {
		return err
	}

	// Stop the snapshot loop and wait for its final save so in-flight
	// sessions survive the restart.
	stopWorkers()
	<-snapshotDone
	return nil
}

func buildLogger(mode string) (*zap.Logger, error) {
	if mode == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// sampleContent seeds the memory store for standalone runs; production
// deployments point at postgres instead.
func sampleContent() memory.Seed {
	return memory.Seed{
		Topics: []domain.Topic{
			{ID: 1, Name: "Ancient Rome", Description: "From the kingdom to the fall of the west"},
		},
		Questions: map[int64][]domain.Question{
			1: {
				{
					ID:      1,
					Text:    "In which year was the city of Rome founded, by tradition?",
					Options: []string{"753 BC", "509 BC", "27 BC"},
					Type:    domain.QuestionSingle,
					Correct: []int{0},
				},
				{
					ID:      2,
					Text:    "Which of these were members of the First Triumvirate?",
					Options: []string{"Caesar", "Pompey", "Augustus", "Crassus"},
					Type:    domain.QuestionMultiple,
					Correct: []int{0, 1, 3},
				},
				{
					ID:      3,
					Text:    "Order these events chronologically",
					Options: []string{"Punic Wars", "Founding of Rome", "Assassination of Caesar"},
					Type:    domain.QuestionSequence,
					Correct: []int{1, 0, 2},
				},
			},
		},
		Users: []domain.User{
			{ID: 1, ExternalID: 1, Name: "demo"},
		},
	}
}
