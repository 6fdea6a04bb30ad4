package app

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"

	"go.uber.org/zap"

	"history-quiz-engine/internal/domain"
)

// SessionRepository abstracts how active sessions are stored. The engine is
// the only writer during normal operation; the snapshot store reads copies
// and writes only at startup restore. Session state is mutated exclusively
// through Mutate, whose callback runs under the same lock the snapshot
// reader takes, so a snapshot never clones a session mid-write.
type SessionRepository interface {
	Get(userID int64) (*domain.QuizSession, bool)
	Put(userID int64, session *domain.QuizSession)
	Mutate(userID int64, fn func(session *domain.QuizSession)) bool
	Delete(userID int64)
}

// DataStore is the relational boundary the engine reads questions from and
// writes results to. RunInTx must give the callback a store whose writes
// commit atomically; the engine relies on this for result + achievement pairs.
type DataStore interface {
	QuestionsByTopic(ctx context.Context, topicID int64) ([]domain.Question, error)
	Topics(ctx context.Context) ([]domain.Topic, error)
	UserByExternalID(ctx context.Context, externalID int64) (domain.User, error)
	CountCompletedTests(ctx context.Context, userID int64) (int, error)
	AchievementNames(ctx context.Context, userID int64) (map[string]struct{}, error)
	InsertTestResult(ctx context.Context, result *domain.TestResult) error
	InsertAchievement(ctx context.Context, achievement *domain.Achievement) error
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx DataStore) error) error
}

// TopicRepository serves topic listings, typically through a cache.
type TopicRepository interface {
	Topics(ctx context.Context) ([]domain.Topic, error)
}

// Notifier receives completion events. Delivery is best effort; the engine
// never fails a completion because a notification could not be dispatched.
type Notifier interface {
	NotifyTestCompletion(ctx context.Context, summary domain.CompletionSummary) error
}

// Time limit tiers, keyed off the requested question count.
const (
	shortQuizLimit  = 5 * 60
	mediumQuizLimit = 10 * 60
	longQuizLimit   = 20 * 60

	notifyTimeout = 10 * time.Second
)

// Engine owns the lifecycle of active quiz attempts: sampling, answer
// recording, lazy deadline checks, scoring, and completion side effects.
type Engine struct {
	sessions     SessionRepository
	store        DataStore
	topics       TopicRepository
	notifier     Notifier
	log          *zap.Logger
	clock        func() time.Time
	rnd          *rand.Rand
	defaultCount int
}

// NewEngine wires the engine with its collaborators. defaultCount is the
// question count used when StartQuiz is called without one.
func NewEngine(sessions SessionRepository, store DataStore, topics TopicRepository, notifier Notifier, log *zap.Logger, defaultCount int) *Engine {
	if defaultCount <= 0 {
		defaultCount = 10
	}
	return &Engine{
		sessions:     sessions,
		store:        store,
		topics:       topics,
		notifier:     notifier,
		log:          log,
		clock:        time.Now,
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
		defaultCount: defaultCount,
	}
}

// WithClock overrides the engine's notion of now. Test-only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.clock = now
	return e
}

// CurrentQuestion is the positioned view of a session's active question.
type CurrentQuestion struct {
	Question domain.Question
	Number   int // 1-based position for display
	Total    int
}

// SubmitResult reports whether an answer advanced or finished the quiz.
type SubmitResult struct {
	Completed bool
	TimedOut  bool
	Result    *CompletionResult
}

// CompletionResult is the full scored outcome of one attempt.
type CompletionResult struct {
	CorrectCount    int                     `json:"correctCount"`
	TotalQuestions  int                     `json:"totalQuestions"`
	Percentage      float64                 `json:"percentage"`
	QuestionResults []domain.QuestionResult `json:"questionResults"`
	NewAchievements []domain.Achievement    `json:"newAchievements"`
	TopicID         int64                   `json:"topicId"`
	TimeSpent       int                     `json:"timeSpent"`
}

// StartQuiz samples questions for the topic and opens a fresh session,
// silently replacing any previous incomplete one for the same user.
func (e *Engine) StartQuiz(ctx context.Context, userID, topicID int64, questionCount int) (*domain.QuizSession, error) {
	if questionCount <= 0 {
		questionCount = e.defaultCount
	}

	available, err := e.store.QuestionsByTopic(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("load questions for topic %d: %w", topicID, err)
	}
	if len(available) == 0 {
		return nil, domain.ErrNoQuestionsAvailable
	}

	selected := e.sample(available, questionCount)

	// The tier is chosen from the requested count, not the sampled count, so
	// asking for 20 questions of a 5-question topic still grants the long limit.
	limit := timeLimitFor(questionCount)
	start := e.clock().UTC()

	session := &domain.QuizSession{
		TopicID:      topicID,
		Questions:    selected,
		CurrentIndex: 0,
		Answers:      make(map[string]domain.Answer),
		StartTime:    start,
		EndTime:      start.Add(time.Duration(limit) * time.Second),
		TimeLimit:    limit,
	}
	e.sessions.Put(userID, session)

	e.log.Info("quiz started",
		zap.Int64("user", userID),
		zap.Int64("topic", topicID),
		zap.Int("questions", len(selected)),
		zap.Int("timeLimit", limit))
	return session, nil
}

// GetCurrentQuestion returns the session's active question, or false when no
// session exists, the deadline has passed, or the questions are exhausted.
// On an expired deadline the session is only flagged; the caller decides
// when to invoke CompleteQuiz and score what was answered.
func (e *Engine) GetCurrentQuestion(userID int64) (CurrentQuestion, bool) {
	session, ok := e.sessions.Get(userID)
	if !ok {
		return CurrentQuestion{}, false
	}
	if session.Expired(e.clock()) {
		e.sessions.Mutate(userID, func(s *domain.QuizSession) { s.IsCompleted = true })
		return CurrentQuestion{}, false
	}
	if session.Exhausted() {
		return CurrentQuestion{}, false
	}
	return CurrentQuestion{
		Question: session.Questions[session.CurrentIndex],
		Number:   session.CurrentIndex + 1,
		Total:    len(session.Questions),
	}, true
}

// SubmitAnswer records the answer for the current question and advances the
// cursor. Past the deadline it short-circuits into completion, scoring only
// what was answered in time. questionID is advisory: the answer always lands
// on the current question, so a stale id is recorded rather than rejected.
// The accumulator paths (ToggleOption, PushSequence) are the strict ones.
func (e *Engine) SubmitAnswer(ctx context.Context, userID, questionID int64, answer domain.Answer) (SubmitResult, error) {
	return e.advance(ctx, userID, answer, true)
}

// SkipQuestion advances past the current question without recording an
// answer; it scores as incorrect at completion.
func (e *Engine) SkipQuestion(ctx context.Context, userID int64) (SubmitResult, error) {
	return e.advance(ctx, userID, nil, false)
}

func (e *Engine) advance(ctx context.Context, userID int64, answer domain.Answer, record bool) (SubmitResult, error) {
	session, ok := e.sessions.Get(userID)
	if !ok {
		return SubmitResult{}, domain.ErrNoActiveQuiz
	}

	if session.Expired(e.clock()) {
		e.sessions.Mutate(userID, func(s *domain.QuizSession) { s.IsCompleted = true })
		result, err := e.CompleteQuiz(ctx, userID)
		if err != nil {
			return SubmitResult{}, err
		}
		return SubmitResult{Completed: true, TimedOut: true, Result: result}, nil
	}

	if session.Exhausted() {
		return SubmitResult{}, domain.ErrNoActiveQuiz
	}

	e.sessions.Mutate(userID, func(s *domain.QuizSession) {
		if record {
			current := s.Questions[s.CurrentIndex]
			s.Answers[answerKey(current.ID)] = answer
		}
		s.CurrentIndex++
	})

	if session.Exhausted() {
		e.sessions.Mutate(userID, func(s *domain.QuizSession) { s.IsCompleted = true })
		result, err := e.CompleteQuiz(ctx, userID)
		if err != nil {
			return SubmitResult{}, err
		}
		return SubmitResult{Completed: true, Result: result}, nil
	}
	return SubmitResult{}, nil
}

// CompleteQuiz scores the session, persists the result and any new
// achievements in one transaction, dispatches the completion event, and
// removes the session. Terminal: the session is never revisited afterwards.
func (e *Engine) CompleteQuiz(ctx context.Context, userID int64) (*CompletionResult, error) {
	session, ok := e.sessions.Get(userID)
	if !ok {
		return nil, domain.ErrNoActiveQuiz
	}

	correct := 0
	total := len(session.Questions)
	results := make([]domain.QuestionResult, 0, total)
	for _, q := range session.Questions {
		answer, answered := session.Answers[answerKey(q.ID)]
		ok := answered && answer != nil && answer.Correct(q)
		if ok {
			correct++
		}
		results = append(results, domain.QuestionResult{
			Question:      q.Text,
			UserAnswer:    answer,
			CorrectAnswer: q.Correct,
			IsCorrect:     ok,
			Explanation:   q.Explanation,
		})
	}

	percentage := 0.0
	if total > 0 {
		percentage = math.Round(float64(correct)/float64(total)*1000) / 10
	}

	// Time spent is capped at the scheduled deadline: finishing late counts
	// as the full limit, never the wall-clock overrun.
	now := e.clock().UTC()
	end := now
	if now.After(session.EndTime) {
		end = session.EndTime
	}
	timeSpent := int(end.Sub(session.StartTime).Seconds())

	user, err := e.store.UserByExternalID(ctx, userID)
	if err != nil {
		// The attempt is lost if we cannot attribute it; keep the session so
		// a retry can still record it.
		e.log.Error("completion failed: user lookup", zap.Int64("user", userID), zap.Error(err))
		return nil, err
	}

	var earned []domain.Achievement
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx DataStore) error {
		result := &domain.TestResult{
			UserID:      user.ID,
			TopicID:     session.TopicID,
			Score:       correct,
			MaxScore:    total,
			Percentage:  percentage,
			TimeSpent:   timeSpent,
			CompletedAt: now,
		}
		if err := tx.InsertTestResult(ctx, result); err != nil {
			return fmt.Errorf("insert test result: %w", err)
		}

		completed, err := tx.CountCompletedTests(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("count completed tests: %w", err)
		}
		existing, err := tx.AchievementNames(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("list achievement names: %w", err)
		}

		earned = EvaluateAchievements(existing, AchievementFacts{
			Percentage:     percentage,
			CompletedTests: completed,
		})
		for i := range earned {
			earned[i].UserID = user.ID
			earned[i].AchievedAt = now
			if err := tx.InsertAchievement(ctx, &earned[i]); err != nil {
				return fmt.Errorf("insert achievement %q: %w", earned[i].Name, err)
			}
		}
		return nil
	})
	if err != nil {
		e.log.Error("completion transaction failed", zap.Int64("user", userID), zap.Error(err))
		return nil, err
	}

	e.dispatchNotification(domain.CompletionSummary{
		UserID:         user.ID,
		TopicID:        session.TopicID,
		CorrectCount:   correct,
		TotalQuestions: total,
		Percentage:     percentage,
	})

	e.sessions.Delete(userID)

	e.log.Info("quiz completed",
		zap.Int64("user", userID),
		zap.Int64("topic", session.TopicID),
		zap.Int("correct", correct),
		zap.Int("total", total),
		zap.Float64("percentage", percentage),
		zap.Int("timeSpent", timeSpent),
		zap.Int("newAchievements", len(earned)))

	return &CompletionResult{
		CorrectCount:    correct,
		TotalQuestions:  total,
		Percentage:      percentage,
		QuestionResults: results,
		NewAchievements: earned,
		TopicID:         session.TopicID,
		TimeSpent:       timeSpent,
	}, nil
}

// dispatchNotification schedules the completion event without blocking the
// caller. Failures are logged and dropped; retry is the notifier's problem.
func (e *Engine) dispatchNotification(summary domain.CompletionSummary) {
	if e.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.notifier.NotifyTestCompletion(ctx, summary); err != nil {
			e.log.Warn("completion notification dropped", zap.Int64("user", summary.UserID), zap.Error(err))
		}
	}()
}

// ListTopics returns the topic catalog, served through the topic cache.
func (e *Engine) ListTopics(ctx context.Context) ([]domain.Topic, error) {
	return e.topics.Topics(ctx)
}

// sample picks min(count, len(available)) distinct questions uniformly at
// random, copying so the session owns its snapshots.
func (e *Engine) sample(available []domain.Question, count int) []domain.Question {
	pool := make([]domain.Question, len(available))
	copy(pool, available)
	e.rnd.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	if count > len(pool) {
		count = len(pool)
	}
	selected := pool[:count]
	for i := range selected {
		selected[i].Options = append([]string(nil), selected[i].Options...)
		selected[i].Correct = append([]int(nil), selected[i].Correct...)
	}
	return selected
}

func timeLimitFor(questionCount int) int {
	switch {
	case questionCount <= 10:
		return shortQuizLimit
	case questionCount <= 15:
		return mediumQuizLimit
	default:
		return longQuizLimit
	}
}

func answerKey(questionID int64) string {
	return strconv.FormatInt(questionID, 10)
}
