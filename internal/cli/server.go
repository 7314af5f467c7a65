package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quiznight-service/internal/app"
	"quiznight-service/internal/config"
	"quiznight-service/internal/domain"
	"quiznight-service/internal/infra/memory"
	pgstore "quiznight-service/internal/infra/postgres"
	redisinfra "quiznight-service/internal/infra/redis"
	"quiznight-service/internal/scoring"
	transport "quiznight-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia session server",
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

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
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
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 4*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleRounds())
	if pool != nil {
		loader = pgstore.NewQuestionLoader(pool)
	}

	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	var questions app.QuestionRepository
	if redisClient != nil {
		questions = redisinfra.NewQuestionRepository(redisClient, loader, questionTTL)
	} else {
		questions = memory.NewQuestionRepository(loader, questionTTL)
	}

	var registry app.SessionRegistry
	if redisClient != nil {
		registry = redisinfra.NewSessionRegistry(redisClient, redisTTL)
	} else {
		registry = memory.NewSessionRegistry()
	}

	var store app.Store = memory.NewStore()
	if cfg.Postgres.URL != "" {
		db, err := openBun(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		store = pgstore.NewStore(db)
	}

	policy := scoring.Policy{PartialSequencePoints: cfg.Quiz.PartialPoints}
	service := app.NewService(registry, questions, store, policy, cfg.Quiz.QuestionSeconds)
	wsHandler := transport.NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.HandleFunc("/sessions", wsHandler.ServeCreateSession)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiznight service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleRounds provides a demo question set for database-less runs; every
// session shares it.
func sampleRounds() map[int][]domain.Question {
	return map[int][]domain.Question{
		1: {
			{
				ID:      "q1",
				Round:   1,
				Ordinal: 1,
				Type:    domain.QuestionMultipleChoice,
				Prompt:  "What is the capital of France?",
				Options: []domain.Option{
					{ID: "o1", Text: "London"},
					{ID: "o2", Text: "Paris"},
					{ID: "o3", Text: "Berlin"},
					{ID: "o4", Text: "Madrid"},
				},
				CorrectOption: "o2",
				TimeLimit:     30,
				Points:        10,
			},
			{
				ID:      "q2",
				Round:   1,
				Ordinal: 2,
				Type:    domain.QuestionSequence,
				Prompt:  "Order these planets by distance from the sun",
				Items:   []string{"Mercury", "Venus", "Earth", "Mars"},
				Points:  8,
			},
		},
	}
}
