package memory

import (
	"context"

	"go.uber.org/zap"

	"history-quiz-engine/internal/domain"
)

// LogNotifier stands in for the notification outbox when Redis is not
// configured: completion events are logged and dropped.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifyTestCompletion(_ context.Context, summary domain.CompletionSummary) error {
	n.log.Info("test completion event",
		zap.Int64("user", summary.UserID),
		zap.Int64("topic", summary.TopicID),
		zap.Int("correct", summary.CorrectCount),
		zap.Int("total", summary.TotalQuestions),
		zap.Float64("percentage", summary.Percentage))
	return nil
}
