package app

import (
	"context"
	"strconv"

	"history-quiz-engine/internal/domain"
)

// Multi-select and sequence questions are answered in two phases: the
// gateway accumulates selections into the session's answer entry as the user
// taps options, then ConfirmAnswer finalizes the entry and advances. The
// accumulator lives in the same answers map the scorer reads, so a timeout
// mid-accumulation still scores whatever was picked.

// ToggleOption flips one option of the current multi-select question and
// returns the selection so far.
func (e *Engine) ToggleOption(userID, questionID int64, option int) ([]int, error) {
	q, err := e.currentFor(userID, questionID, domain.QuestionMultiple)
	if err != nil {
		return nil, err
	}

	key := answerKey(q.ID)
	var picks []int
	e.sessions.Mutate(userID, func(s *domain.QuizSession) {
		acc, _ := s.Answers[key].(domain.MultipleAnswer)
		found := -1
		for i, idx := range acc {
			if idx == option {
				found = i
				break
			}
		}
		if found >= 0 {
			acc = append(acc[:found], acc[found+1:]...)
		} else {
			acc = append(acc, option)
		}
		s.Answers[key] = acc
		picks = []int(acc)
	})
	return picks, nil
}

// SelectedOptions reports the in-progress multi-select picks for rendering
// checkbox state.
func (e *Engine) SelectedOptions(userID, questionID int64) []int {
	session, ok := e.sessions.Get(userID)
	if !ok {
		return nil
	}
	acc, _ := session.Answers[answerKey(questionID)].(domain.MultipleAnswer)
	return []int(acc)
}

// PushSequence appends one option to the current sequence question's
// ordering, ignoring options already placed.
func (e *Engine) PushSequence(userID, questionID int64, option int) ([]string, error) {
	q, err := e.currentFor(userID, questionID, domain.QuestionSequence)
	if err != nil {
		return nil, err
	}

	key := answerKey(q.ID)
	elem := strconv.Itoa(option)
	var order []string
	e.sessions.Mutate(userID, func(s *domain.QuizSession) {
		acc, _ := s.Answers[key].(domain.SequenceAnswer)
		for _, placed := range acc {
			if placed == elem {
				order = []string(acc)
				return
			}
		}
		acc = append(acc, elem)
		s.Answers[key] = acc
		order = []string(acc)
	})
	return order, nil
}

// ResetSequence clears the ordering built so far back to empty.
func (e *Engine) ResetSequence(userID, questionID int64) error {
	q, err := e.currentFor(userID, questionID, domain.QuestionSequence)
	if err != nil {
		return err
	}
	e.sessions.Mutate(userID, func(s *domain.QuizSession) {
		s.Answers[answerKey(q.ID)] = domain.SequenceAnswer{}
	})
	return nil
}

// CurrentSequence returns the ordering built so far.
func (e *Engine) CurrentSequence(userID, questionID int64) []string {
	session, ok := e.sessions.Get(userID)
	if !ok {
		return nil
	}
	acc, _ := session.Answers[answerKey(questionID)].(domain.SequenceAnswer)
	return []string(acc)
}

// ConfirmAnswer finalizes the accumulated answer for the current question
// and advances, exactly as SubmitAnswer would with the built-up value.
func (e *Engine) ConfirmAnswer(ctx context.Context, userID, questionID int64) (SubmitResult, error) {
	session, ok := e.sessions.Get(userID)
	if !ok {
		return SubmitResult{}, domain.ErrNoActiveQuiz
	}

	var answer domain.Answer
	if !session.Exhausted() {
		q := session.Questions[session.CurrentIndex]
		var found bool
		answer, found = session.Answers[answerKey(q.ID)]
		if !found {
			answer = domain.EmptyAnswer(q.Type)
		}
	}
	return e.SubmitAnswer(ctx, userID, questionID, answer)
}

// currentFor validates that questionID is the current question of the
// expected type; accumulation against any other question is a stale-button
// artifact and rejected.
func (e *Engine) currentFor(userID, questionID int64, want domain.QuestionType) (domain.Question, error) {
	session, ok := e.sessions.Get(userID)
	if !ok {
		return domain.Question{}, domain.ErrNoActiveQuiz
	}
	if session.Exhausted() {
		return domain.Question{}, domain.ErrNoActiveQuiz
	}
	q := session.Questions[session.CurrentIndex]
	if q.ID != questionID || q.Type != want {
		return domain.Question{}, domain.ErrQuestionMismatch
	}
	return q, nil
}
