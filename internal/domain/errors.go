package domain

import "errors"

var (
	// ErrNoActiveQuiz is returned when an operation needs a session that is
	// not there: stale button, double submit, or an already finished quiz.
	ErrNoActiveQuiz = errors.New("no active quiz for user")
	// ErrNoQuestionsAvailable indicates the chosen topic has no questions.
	ErrNoQuestionsAvailable = errors.New("no questions available for topic")
	// ErrTopicNotFound indicates the topic itself could not be loaded.
	ErrTopicNotFound = errors.New("topic not found")
	// ErrUserNotFound indicates the user record is missing at completion
	// time; the attempt cannot be recorded.
	ErrUserNotFound = errors.New("user not found")
	// ErrQuestionMismatch is returned when a submitted question ID does not
	// match the session's current question.
	ErrQuestionMismatch = errors.New("answer does not match current question")
)
