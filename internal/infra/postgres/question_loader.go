package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v4/pgxpool"

	"history-quiz-engine/internal/domain"
)

// QuestionLoader reads the question bank. Options and correct answers are
// JSONB columns; correct answers tolerate mixed int/string elements since
// imported content is not always consistent about it.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) QuestionsByTopic(ctx context.Context, topicID int64) ([]domain.Question, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, text, options, correct_answer, question_type, explanation, media_url
		 FROM questions WHERE topic_id=$1 ORDER BY id`, topicID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var (
			q           domain.Question
			rawOptions  []byte
			rawCorrect  []byte
			qType       string
			explanation string
			mediaURL    string
		)
		if err := rows.Scan(&q.ID, &q.Text, &rawOptions, &rawCorrect, &qType, &explanation, &mediaURL); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(rawOptions, &q.Options); err != nil {
			return nil, fmt.Errorf("question %d options: %w", q.ID, err)
		}
		correct, err := parseIndices(rawCorrect)
		if err != nil {
			return nil, fmt.Errorf("question %d correct answer: %w", q.ID, err)
		}
		q.Correct = correct
		q.Type = domain.QuestionType(qType)
		q.Explanation = explanation
		q.MediaURL = mediaURL
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return questions, nil
}

func parseIndices(raw []byte) ([]int, error) {
	var elems []any
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, err
	}
	indices := make([]int, 0, len(elems))
	for _, el := range elems {
		switch v := el.(type) {
		case float64:
			indices = append(indices, int(v))
		case string:
			idx, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("non-numeric index %q", v)
			}
			indices = append(indices, idx)
		default:
			return nil, fmt.Errorf("unexpected index element %T", el)
		}
	}
	return indices, nil
}
