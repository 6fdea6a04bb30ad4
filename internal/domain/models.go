package domain

import "time"

// QuestionType discriminates how a question is answered and scored.
type QuestionType string

const (
	QuestionSingle   QuestionType = "single"
	QuestionMultiple QuestionType = "multiple"
	QuestionSequence QuestionType = "sequence"
)

// Question is an immutable snapshot of a bank question, copied into a session
// at start time so mid-quiz edits to the bank cannot corrupt a running attempt.
// Correct holds option indices; for sequence questions the order is the answer.
type Question struct {
	ID          int64        `json:"id"`
	Text        string       `json:"text"`
	Options     []string     `json:"options"`
	Type        QuestionType `json:"questionType"`
	Correct     []int        `json:"correctAnswer"`
	Explanation string       `json:"explanation,omitempty"`
	MediaURL    string       `json:"mediaUrl,omitempty"`
}

// QuizSession is one user's in-progress attempt. At most one exists per user;
// starting a new quiz replaces any previous incomplete session.
type QuizSession struct {
	TopicID      int64
	Questions    []Question
	CurrentIndex int
	// Answers is keyed by the stringified question ID. An absent entry means
	// the question was skipped or never reached; it scores as incorrect.
	Answers   map[string]Answer
	StartTime time.Time
	EndTime   time.Time
	// TimeLimit is the allotted duration in seconds, derived from the
	// requested question count at session start.
	TimeLimit   int
	IsCompleted bool
}

// Expired reports whether the session deadline has passed.
func (s *QuizSession) Expired(now time.Time) bool {
	return now.After(s.EndTime)
}

// Exhausted reports whether the cursor has moved past the last question.
func (s *QuizSession) Exhausted() bool {
	return s.CurrentIndex >= len(s.Questions)
}

// Clone returns a deep copy safe to serialize while the original keeps mutating.
func (s *QuizSession) Clone() *QuizSession {
	cp := *s
	cp.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		cp.Questions[i] = q
		cp.Questions[i].Options = append([]string(nil), q.Options...)
		cp.Questions[i].Correct = append([]int(nil), q.Correct...)
	}
	cp.Answers = make(map[string]Answer, len(s.Answers))
	for k, a := range s.Answers {
		cp.Answers[k] = cloneAnswer(a)
	}
	return &cp
}

// Topic is a named category of questions.
type Topic struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// User is the minimal identity record the engine needs at completion time.
type User struct {
	ID         int64
	ExternalID int64
	Name       string
}

// TestResult is the durable record of one completed attempt. Immutable once written.
type TestResult struct {
	ID          int64
	UserID      int64
	TopicID     int64
	Score       int
	MaxScore    int
	Percentage  float64
	TimeSpent   int // seconds
	CompletedAt time.Time
}

// Achievement is append-only; Name is the per-user dedup key.
type Achievement struct {
	ID          int64
	UserID      int64
	Name        string
	Description string
	Points      int
	BadgeURL    string
	AchievedAt  time.Time
}

// QuestionResult is the per-question line of a completion report.
type QuestionResult struct {
	Question      string `json:"question"`
	UserAnswer    Answer `json:"userAnswer,omitempty"`
	CorrectAnswer []int  `json:"correctAnswer"`
	IsCorrect     bool   `json:"isCorrect"`
	Explanation   string `json:"explanation,omitempty"`
}

// CompletionSummary is the payload handed to the Notifier when a quiz finishes.
type CompletionSummary struct {
	UserID         int64   `json:"userId"`
	TopicID        int64   `json:"topicId"`
	CorrectCount   int     `json:"correctCount"`
	TotalQuestions int     `json:"totalQuestions"`
	Percentage     float64 `json:"percentage"`
}
