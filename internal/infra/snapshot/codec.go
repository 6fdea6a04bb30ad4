package snapshot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"history-quiz-engine/internal/domain"
)

// The on-disk shapes mirror what the gateway transports: a single answer is a
// bare index, a multi-select answer a list of indices, a sequence answer a
// list of index strings. Decoding is keyed off the question type and
// tolerates mixed int/string elements from older files.

type persistedSession struct {
	TopicID      int64                      `json:"topicId"`
	Questions    []persistedQuestion        `json:"questions"`
	CurrentIndex int                        `json:"currentIndex"`
	Answers      map[string]json.RawMessage `json:"answers"`
	StartTime    time.Time                  `json:"startTime"`
	EndTime      time.Time                  `json:"endTime"`
	TimeLimit    int                        `json:"timeLimit"`
	IsCompleted  bool                       `json:"isCompleted"`
	SavedAt      time.Time                  `json:"_savedAt"`
	Version      int                        `json:"_version"`
}

type persistedQuestion struct {
	ID            int64           `json:"id"`
	Text          string          `json:"text"`
	Options       []string        `json:"options"`
	Type          string          `json:"questionType"`
	CorrectAnswer json.RawMessage `json:"correctAnswer"`
	Explanation   string          `json:"explanation,omitempty"`
	MediaURL      string          `json:"mediaUrl,omitempty"`
}

func encodeSession(s *domain.QuizSession, savedAt time.Time) *persistedSession {
	p := &persistedSession{
		TopicID:      s.TopicID,
		Questions:    make([]persistedQuestion, 0, len(s.Questions)),
		CurrentIndex: s.CurrentIndex,
		Answers:      make(map[string]json.RawMessage, len(s.Answers)),
		StartTime:    s.StartTime.UTC(),
		EndTime:      s.EndTime.UTC(),
		TimeLimit:    s.TimeLimit,
		IsCompleted:  s.IsCompleted,
		SavedAt:      savedAt.UTC(),
		Version:      formatVersion,
	}
	for _, q := range s.Questions {
		p.Questions = append(p.Questions, encodeQuestion(q))
	}
	for key, answer := range s.Answers {
		raw, err := json.Marshal(answer)
		if err != nil {
			continue
		}
		p.Answers[key] = raw
	}
	return p
}

func encodeQuestion(q domain.Question) persistedQuestion {
	var correct any = q.Correct
	if q.Type == domain.QuestionSequence {
		order := make([]string, len(q.Correct))
		for i, idx := range q.Correct {
			order[i] = strconv.Itoa(idx)
		}
		correct = order
	}
	raw, _ := json.Marshal(correct)
	return persistedQuestion{
		ID:            q.ID,
		Text:          q.Text,
		Options:       q.Options,
		Type:          string(q.Type),
		CorrectAnswer: raw,
		Explanation:   q.Explanation,
		MediaURL:      q.MediaURL,
	}
}

func decodeSession(p *persistedSession) (*domain.QuizSession, error) {
	session := &domain.QuizSession{
		TopicID:      p.TopicID,
		Questions:    make([]domain.Question, 0, len(p.Questions)),
		CurrentIndex: p.CurrentIndex,
		Answers:      make(map[string]domain.Answer, len(p.Answers)),
		StartTime:    p.StartTime,
		EndTime:      p.EndTime,
		TimeLimit:    p.TimeLimit,
		IsCompleted:  p.IsCompleted,
	}

	types := make(map[string]domain.QuestionType, len(p.Questions))
	for _, pq := range p.Questions {
		q, err := decodeQuestion(pq)
		if err != nil {
			return nil, err
		}
		session.Questions = append(session.Questions, q)
		types[strconv.FormatInt(q.ID, 10)] = q.Type
	}

	for key, raw := range p.Answers {
		t, ok := types[key]
		if !ok {
			// Answer for a question not in this session; drop it.
			continue
		}
		answer, err := decodeAnswer(t, raw)
		if err != nil {
			return nil, fmt.Errorf("answer for question %s: %w", key, err)
		}
		session.Answers[key] = answer
	}
	return session, nil
}

func decodeQuestion(p persistedQuestion) (domain.Question, error) {
	correct, err := decodeIndices(p.CorrectAnswer)
	if err != nil {
		return domain.Question{}, fmt.Errorf("question %d correct answer: %w", p.ID, err)
	}
	return domain.Question{
		ID:          p.ID,
		Text:        p.Text,
		Options:     p.Options,
		Type:        domain.QuestionType(p.Type),
		Correct:     correct,
		Explanation: p.Explanation,
		MediaURL:    p.MediaURL,
	}, nil
}

func decodeAnswer(t domain.QuestionType, raw json.RawMessage) (domain.Answer, error) {
	switch t {
	case domain.QuestionSingle:
		idx, err := decodeIndex(raw)
		if err != nil {
			return nil, err
		}
		return domain.SingleAnswer(idx), nil
	case domain.QuestionMultiple:
		indices, err := decodeIndices(raw)
		if err != nil {
			return nil, err
		}
		return domain.MultipleAnswer(indices), nil
	case domain.QuestionSequence:
		var elems []any
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, err
		}
		order := make(domain.SequenceAnswer, 0, len(elems))
		for _, el := range elems {
			s, err := stringifyIndex(el)
			if err != nil {
				return nil, err
			}
			order = append(order, s)
		}
		return order, nil
	default:
		return nil, fmt.Errorf("unknown question type %q", t)
	}
}

func decodeIndices(raw json.RawMessage) ([]int, error) {
	var elems []any
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, err
	}
	indices := make([]int, 0, len(elems))
	for _, el := range elems {
		idx, err := coerceIndex(el)
		if err != nil {
			return nil, err
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

func decodeIndex(raw json.RawMessage) (int, error) {
	var el any
	if err := json.Unmarshal(raw, &el); err != nil {
		return 0, err
	}
	return coerceIndex(el)
}

func coerceIndex(el any) (int, error) {
	switch v := el.(type) {
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("unexpected index element %T", el)
	}
}

func stringifyIndex(el any) (string, error) {
	switch v := el.(type) {
	case float64:
		return strconv.Itoa(int(v)), nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("unexpected sequence element %T", el)
	}
}
