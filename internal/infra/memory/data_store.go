package memory

import (
	"context"
	"sync"
	"time"

	"history-quiz-engine/internal/app"
	"history-quiz-engine/internal/domain"
)

// DataStore is an in-memory implementation of app.DataStore, backing demo
// mode (no postgres configured) and unit tests. Single-process, so the
// transactional contract holds trivially under one mutex.
type DataStore struct {
	mu           sync.Mutex
	topics       []domain.Topic
	questions    map[int64][]domain.Question // topic ID -> questions
	users        map[int64]domain.User       // external ID -> user
	results      []domain.TestResult
	achievements []domain.Achievement
	nextID       int64
}

// Seed is the initial content of a memory store.
type Seed struct {
	Topics    []domain.Topic
	Questions map[int64][]domain.Question
	Users     []domain.User
}

func NewDataStore(seed Seed) *DataStore {
	s := &DataStore{
		topics:    seed.Topics,
		questions: make(map[int64][]domain.Question),
		users:     make(map[int64]domain.User),
		nextID:    1,
	}
	for topicID, qs := range seed.Questions {
		s.questions[topicID] = qs
	}
	for _, u := range seed.Users {
		s.users[u.ExternalID] = u
	}
	return s
}

func (s *DataStore) QuestionsByTopic(_ context.Context, topicID int64) ([]domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qs := s.questions[topicID]
	out := make([]domain.Question, len(qs))
	copy(out, qs)
	return out, nil
}

func (s *DataStore) Topics(_ context.Context) ([]domain.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Topic, len(s.topics))
	copy(out, s.topics)
	return out, nil
}

func (s *DataStore) UserByExternalID(_ context.Context, externalID int64) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[externalID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (s *DataStore) CountCompletedTests(_ context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, r := range s.results {
		if r.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (s *DataStore) AchievementNames(_ context.Context, userID int64) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make(map[string]struct{})
	for _, a := range s.achievements {
		if a.UserID == userID {
			names[a.Name] = struct{}{}
		}
	}
	return names, nil
}

func (s *DataStore) InsertTestResult(_ context.Context, result *domain.TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	result.ID = s.nextID
	s.nextID++
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now().UTC()
	}
	s.results = append(s.results, *result)
	return nil
}

func (s *DataStore) InsertAchievement(_ context.Context, achievement *domain.Achievement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	achievement.ID = s.nextID
	s.nextID++
	s.achievements = append(s.achievements, *achievement)
	return nil
}

// RunInTx runs fn against the store itself. Writes are individually atomic
// under the store mutex and there are no concurrent transactions in the
// single-process demo mode this backs.
func (s *DataStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.DataStore) error) error {
	return fn(ctx, s)
}

// Results returns a copy of all persisted results. Test helper.
func (s *DataStore) Results() []domain.TestResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TestResult, len(s.results))
	copy(out, s.results)
	return out
}

// Achievements returns a copy of all persisted achievements. Test helper.
func (s *DataStore) Achievements() []domain.Achievement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Achievement, len(s.achievements))
	copy(out, s.achievements)
	return out
}
