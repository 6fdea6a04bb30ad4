package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"history-quiz-engine/internal/app"
	"history-quiz-engine/internal/domain"
)

type topicRow struct {
	bun.BaseModel `bun:"table:topics,alias:t"`

	ID          int64  `bun:"id,pk,autoincrement"`
	Name        string `bun:"name"`
	Description string `bun:"description"`
}

type userRow struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID         int64  `bun:"id,pk,autoincrement"`
	ExternalID int64  `bun:"external_id"`
	Name       string `bun:"name"`
}

type testResultRow struct {
	bun.BaseModel `bun:"table:test_results,alias:tr"`

	ID          int64     `bun:"id,pk,autoincrement"`
	UserID      int64     `bun:"user_id"`
	TopicID     int64     `bun:"topic_id"`
	Score       int       `bun:"score"`
	MaxScore    int       `bun:"max_score"`
	Percentage  float64   `bun:"percentage"`
	TimeSpent   int       `bun:"time_spent"`
	CompletedAt time.Time `bun:"completed_at"`
}

type achievementRow struct {
	bun.BaseModel `bun:"table:achievements,alias:a"`

	ID          int64     `bun:"id,pk,autoincrement"`
	UserID      int64     `bun:"user_id"`
	Name        string    `bun:"name"`
	Description string    `bun:"description"`
	Points      int       `bun:"points"`
	BadgeURL    string    `bun:"badge_url"`
	AchievedAt  time.Time `bun:"achieved_at"`
}

// Store implements app.DataStore on postgres: bun for rows and transactions,
// the pgx question loader for the JSONB question bank reads.
type Store struct {
	root      *bun.DB
	db        bun.IDB
	questions *QuestionLoader
}

func NewStore(db *bun.DB, questions *QuestionLoader) *Store {
	return &Store{root: db, db: db, questions: questions}
}

func (s *Store) QuestionsByTopic(ctx context.Context, topicID int64) ([]domain.Question, error) {
	return s.questions.QuestionsByTopic(ctx, topicID)
}

func (s *Store) Topics(ctx context.Context) ([]domain.Topic, error) {
	var rows []topicRow
	if err := s.db.NewSelect().Model(&rows).Order("id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("select topics: %w", err)
	}
	topics := make([]domain.Topic, 0, len(rows))
	for _, r := range rows {
		topics = append(topics, domain.Topic{ID: r.ID, Name: r.Name, Description: r.Description})
	}
	return topics, nil
}

func (s *Store) UserByExternalID(ctx context.Context, externalID int64) (domain.User, error) {
	var row userRow
	err := s.db.NewSelect().Model(&row).Where("external_id = ?", externalID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	return domain.User{ID: row.ID, ExternalID: row.ExternalID, Name: row.Name}, nil
}

func (s *Store) CountCompletedTests(ctx context.Context, userID int64) (int, error) {
	count, err := s.db.NewSelect().Model((*testResultRow)(nil)).Where("user_id = ?", userID).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count test results: %w", err)
	}
	return count, nil
}

func (s *Store) AchievementNames(ctx context.Context, userID int64) (map[string]struct{}, error) {
	var names []string
	err := s.db.NewSelect().Model((*achievementRow)(nil)).
		Column("name").
		Where("user_id = ?", userID).
		Scan(ctx, &names)
	if err != nil {
		return nil, fmt.Errorf("select achievement names: %w", err)
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set, nil
}

func (s *Store) InsertTestResult(ctx context.Context, result *domain.TestResult) error {
	row := testResultRow{
		UserID:      result.UserID,
		TopicID:     result.TopicID,
		Score:       result.Score,
		MaxScore:    result.MaxScore,
		Percentage:  result.Percentage,
		TimeSpent:   result.TimeSpent,
		CompletedAt: result.CompletedAt,
	}
	if _, err := s.db.NewInsert().Model(&row).Returning("id").Exec(ctx); err != nil {
		return fmt.Errorf("insert test result: %w", err)
	}
	result.ID = row.ID
	return nil
}

func (s *Store) InsertAchievement(ctx context.Context, achievement *domain.Achievement) error {
	row := achievementRow{
		UserID:      achievement.UserID,
		Name:        achievement.Name,
		Description: achievement.Description,
		Points:      achievement.Points,
		BadgeURL:    achievement.BadgeURL,
		AchievedAt:  achievement.AchievedAt,
	}
	if _, err := s.db.NewInsert().Model(&row).Returning("id").Exec(ctx); err != nil {
		return fmt.Errorf("insert achievement: %w", err)
	}
	achievement.ID = row.ID
	return nil
}

// RunInTx hands fn a store bound to one transaction; the completion path
// uses this so a result and its achievements commit or roll back together.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.DataStore) error) error {
	return s.root.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Store{root: s.root, db: tx, questions: s.questions})
	})
}
