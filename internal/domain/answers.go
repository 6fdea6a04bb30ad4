package domain

import "strconv"

// Answer is the tagged union of what a user can submit for one question.
// Each variant knows how to score itself against the question's correct
// indices, so scoring never inspects loosely typed payloads.
type Answer interface {
	// Correct reports whether this answer matches the question's key.
	Correct(q Question) bool
}

// SingleAnswer is the chosen option index of a single-choice question.
type SingleAnswer int

// MultipleAnswer is the chosen option indices of a multi-select question.
// Order and duplicates are irrelevant; scoring compares sets.
type MultipleAnswer []int

// SequenceAnswer is the chosen ordering of a sequence question, as
// stringified option indices. Order is the whole point.
type SequenceAnswer []string

func (a SingleAnswer) Correct(q Question) bool {
	if len(q.Correct) == 0 {
		return false
	}
	return int(a) == q.Correct[0]
}

func (a MultipleAnswer) Correct(q Question) bool {
	chosen := make(map[int]struct{}, len(a))
	for _, idx := range a {
		chosen[idx] = struct{}{}
	}
	want := make(map[int]struct{}, len(q.Correct))
	for _, idx := range q.Correct {
		want[idx] = struct{}{}
	}
	if len(chosen) != len(want) {
		return false
	}
	for idx := range want {
		if _, ok := chosen[idx]; !ok {
			return false
		}
	}
	return true
}

func (a SequenceAnswer) Correct(q Question) bool {
	if len(a) != len(q.Correct) {
		return false
	}
	for i, idx := range q.Correct {
		if a[i] != strconv.Itoa(idx) {
			return false
		}
	}
	return true
}

// EmptyAnswer returns the zero in-progress accumulator for a question type.
// Single questions have no accumulation phase and return nil.
func EmptyAnswer(t QuestionType) Answer {
	switch t {
	case QuestionMultiple:
		return MultipleAnswer{}
	case QuestionSequence:
		return SequenceAnswer{}
	default:
		return nil
	}
}

func cloneAnswer(a Answer) Answer {
	switch v := a.(type) {
	case MultipleAnswer:
		return append(MultipleAnswer(nil), v...)
	case SequenceAnswer:
		return append(SequenceAnswer(nil), v...)
	default:
		return a
	}
}
