package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"history-quiz-engine/internal/app"
	"history-quiz-engine/internal/domain"
	"history-quiz-engine/internal/infra/memory"
	pgstore "history-quiz-engine/internal/infra/postgres"
	pgmigrations "history-quiz-engine/internal/infra/postgres/migrations"
	infraredis "history-quiz-engine/internal/infra/redis"
)

const externalUserID int64 = 42

func TestQuizEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	bundb := openBun(t, ctx, pgURL)
	defer bundb.Close()
	seedContent(t, ctx, bundb)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	store := pgstore.NewStore(bundb, pgstore.NewQuestionLoader(pool))

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	topics := infraredis.NewTopicRepository(redisClient, store, 5*time.Minute)
	notifier := infraredis.NewNotifier(redisClient, "")
	sessions := memory.NewSessionStore()
	engine := app.NewEngine(sessions, store, topics, notifier, zap.NewNop(), 10)

	listed, err := engine.ListTopics(ctx)
	if err != nil {
		t.Fatalf("list topics: %v", err)
	}
	if len(listed) != 1 || listed[0].Name != "Ancient Rome" {
		t.Fatalf("topics = %+v", listed)
	}

	session, err := engine.StartQuiz(ctx, externalUserID, listed[0].ID, 3)
	if err != nil {
		t.Fatalf("start quiz: %v", err)
	}
	if len(session.Questions) != 3 || session.TimeLimit != 300 {
		t.Fatalf("session = %+v", session)
	}

	// Answer every question correctly.
	var final *app.CompletionResult
	for {
		current, ok := engine.GetCurrentQuestion(externalUserID)
		if !ok {
			t.Fatalf("no current question before completion")
		}
		result, err := engine.SubmitAnswer(ctx, externalUserID, current.Question.ID, correctAnswerFor(current.Question))
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if result.Completed {
			final = result.Result
			break
		}
	}

	if final == nil || final.CorrectCount != 3 || final.Percentage != 100 {
		t.Fatalf("result = %+v", final)
	}

	// Result row committed.
	count, err := store.CountCompletedTests(ctx, 1)
	if err != nil {
		t.Fatalf("count results: %v", err)
	}
	if count != 1 {
		t.Fatalf("test results = %d", count)
	}

	// First run with a perfect score unlocks both starter achievements.
	names, err := store.AchievementNames(ctx, 1)
	if err != nil {
		t.Fatalf("achievement names: %v", err)
	}
	if _, ok := names["First test"]; !ok {
		t.Fatalf("missing First test achievement: %v", names)
	}
	if _, ok := names["Perfect score"]; !ok {
		t.Fatalf("missing Perfect score achievement: %v", names)
	}

	waitForEvent(t, ctx, redisClient)
}

func correctAnswerFor(q domain.Question) domain.Answer {
	switch q.Type {
	case domain.QuestionSingle:
		return domain.SingleAnswer(q.Correct[0])
	case domain.QuestionMultiple:
		return domain.MultipleAnswer(append([]int(nil), q.Correct...))
	default:
		order := make([]string, len(q.Correct))
		for i, idx := range q.Correct {
			order[i] = fmt.Sprintf("%d", idx)
		}
		return domain.SequenceAnswer(order)
	}
}

// waitForEvent polls the notification outbox; dispatch happens on a
// background goroutine after completion.
func waitForEvent(t *testing.T, ctx context.Context, client *goredis.Client) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n, err := client.LLen(ctx, "quiz:notifications").Result()
		if err != nil {
			t.Fatalf("llen: %v", err)
		}
		if n > 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("completion event never enqueued")
}

func openBun(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedContent(t *testing.T, ctx context.Context, db *bun.DB) {
	t.Helper()
	if _, err := db.ExecContext(ctx, `INSERT INTO topics (name, description) VALUES (?, ?)`, "Ancient Rome", "From the kings to the empire"); err != nil {
		t.Fatalf("insert topic: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO users (external_id, name) VALUES (?, ?)`, externalUserID, "Alice"); err != nil {
		t.Fatalf("insert user: %v", err)
	}

	questions := []struct {
		text    string
		options string
		correct string
		qType   string
	}{
		{"Founder of Rome?", `["Romulus","Remus","Numa"]`, `[0]`, "single"},
		{"Punic war rivals?", `["Carthage","Rome","Parthia"]`, `[0,1]`, "multiple"},
		{"Order the kings", `["Romulus","Numa","Tullus"]`, `["0","1","2"]`, "sequence"},
	}
	for _, q := range questions {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO questions (topic_id, text, options, correct_answer, question_type) VALUES (1, ?, ?::jsonb, ?::jsonb, ?)`,
			q.text, q.options, q.correct, q.qType); err != nil {
			t.Fatalf("insert question: %v", err)
		}
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
