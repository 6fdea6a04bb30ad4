// Package http exposes the engine to the Presentation Gateway (the chat bot
// process): one websocket per user, JSON command envelopes in, typed result
// envelopes out. Rendering (keyboards, message editing) stays on the
// gateway's side of the wire.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"history-quiz-engine/internal/app"
	"history-quiz-engine/internal/domain"
)

type WSHandler struct {
	engine   *app.Engine
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(engine *app.Engine, log *zap.Logger) *WSHandler {
	return &WSHandler{
		engine: engine,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type startPayload struct {
	TopicID       int64 `json:"topicId"`
	QuestionCount int   `json:"questionCount"`
}

type startedPayload struct {
	TopicID       int64 `json:"topicId"`
	QuestionCount int   `json:"questionCount"`
	TimeLimit     int   `json:"timeLimit"`
}

type questionPayload struct {
	Question domain.Question `json:"question"`
	Number   int             `json:"number"`
	Total    int             `json:"total"`
	Selected []int           `json:"selected,omitempty"`
	Sequence []string        `json:"sequence,omitempty"`
}

type answerPayload struct {
	QuestionID int64           `json:"questionId"`
	Answer     json.RawMessage `json:"answer"`
}

type optionPayload struct {
	QuestionID int64 `json:"questionId"`
	Option     int   `json:"option"`
}

type questionRefPayload struct {
	QuestionID int64 `json:"questionId"`
}

type advancedPayload struct {
	Completed bool                  `json:"completed"`
	TimedOut  bool                  `json:"timedOut,omitempty"`
	Result    *app.CompletionResult `json:"result,omitempty"`
}

// ServeWS upgrades the gateway connection and serves engine commands for one
// user. Messages are handled strictly in order; each command's session
// mutation finishes before the next is read, which is the serialization the
// engine expects per user.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil {
		http.Error(w, "missing or invalid userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		h.handle(conn, r, userID, inbound)
	}
}

func (h *WSHandler) handle(conn *websocket.Conn, r *http.Request, userID int64, inbound inboundMessage) {
	ctx := r.Context()

	switch inbound.Type {
	case "topics":
		topics, err := h.engine.ListTopics(ctx)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		h.send(conn, "topics", topics)

	case "start":
		var p startPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			h.sendError(conn, err)
			return
		}
		session, err := h.engine.StartQuiz(ctx, userID, p.TopicID, p.QuestionCount)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		h.send(conn, "started", startedPayload{
			TopicID:       session.TopicID,
			QuestionCount: len(session.Questions),
			TimeLimit:     session.TimeLimit,
		})
		h.sendCurrentQuestion(conn, userID)

	case "question":
		h.sendCurrentQuestion(conn, userID)

	case "answer":
		var p answerPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			h.sendError(conn, err)
			return
		}
		answer, err := h.decodeAnswer(userID, p.Answer)
		if errors.Is(err, domain.ErrNoActiveQuiz) {
			// No current question can mean the deadline passed. Hand the
			// engine a nil answer: an expired session finalizes into the
			// timed-out completion, a missing one errors as before.
			result, serr := h.engine.SubmitAnswer(ctx, userID, p.QuestionID, nil)
			if serr != nil {
				h.sendError(conn, serr)
				return
			}
			h.sendAdvanced(conn, result)
			return
		}
		if err != nil {
			h.sendError(conn, err)
			return
		}
		result, err := h.engine.SubmitAnswer(ctx, userID, p.QuestionID, answer)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		h.sendAdvanced(conn, result)

	case "toggle":
		var p optionPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			h.sendError(conn, err)
			return
		}
		selected, err := h.engine.ToggleOption(userID, p.QuestionID, p.Option)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		h.send(conn, "selection", selected)

	case "sequence":
		var p optionPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			h.sendError(conn, err)
			return
		}
		seq, err := h.engine.PushSequence(userID, p.QuestionID, p.Option)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		h.send(conn, "sequence", seq)

	case "reset":
		var p questionRefPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			h.sendError(conn, err)
			return
		}
		if err := h.engine.ResetSequence(userID, p.QuestionID); err != nil {
			h.sendError(conn, err)
			return
		}
		h.send(conn, "sequence", []string{})

	case "confirm":
		var p questionRefPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			h.sendError(conn, err)
			return
		}
		result, err := h.engine.ConfirmAnswer(ctx, userID, p.QuestionID)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		h.sendAdvanced(conn, result)

	case "skip":
		result, err := h.engine.SkipQuestion(ctx, userID)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		h.sendAdvanced(conn, result)

	case "complete":
		result, err := h.engine.CompleteQuiz(ctx, userID)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		h.send(conn, "completed", result)

	default:
		h.send(conn, "error", errorPayload{Message: "unsupported message type"})
	}
}

func (h *WSHandler) sendCurrentQuestion(conn *websocket.Conn, userID int64) {
	current, ok := h.engine.GetCurrentQuestion(userID)
	if !ok {
		h.send(conn, "noQuestion", struct{}{})
		return
	}
	payload := questionPayload{
		Question: current.Question,
		Number:   current.Number,
		Total:    current.Total,
	}
	switch current.Question.Type {
	case domain.QuestionMultiple:
		payload.Selected = h.engine.SelectedOptions(userID, current.Question.ID)
	case domain.QuestionSequence:
		payload.Sequence = h.engine.CurrentSequence(userID, current.Question.ID)
	}
	h.send(conn, "question", payload)
}

func (h *WSHandler) sendAdvanced(conn *websocket.Conn, result app.SubmitResult) {
	h.send(conn, "advanced", advancedPayload{
		Completed: result.Completed,
		TimedOut:  result.TimedOut,
		Result:    result.Result,
	})
}

// decodeAnswer parses the raw answer using the current question's type: a
// bare index for single, a list of indices for multiple, a list of strings
// for sequence.
func (h *WSHandler) decodeAnswer(userID int64, raw json.RawMessage) (domain.Answer, error) {
	current, ok := h.engine.GetCurrentQuestion(userID)
	if !ok {
		return nil, domain.ErrNoActiveQuiz
	}
	switch current.Question.Type {
	case domain.QuestionSingle:
		var idx int
		if err := json.Unmarshal(raw, &idx); err != nil {
			return nil, err
		}
		return domain.SingleAnswer(idx), nil
	case domain.QuestionMultiple:
		var indices []int
		if err := json.Unmarshal(raw, &indices); err != nil {
			return nil, err
		}
		return domain.MultipleAnswer(indices), nil
	case domain.QuestionSequence:
		var order []string
		if err := json.Unmarshal(raw, &order); err != nil {
			return nil, err
		}
		return domain.SequenceAnswer(order), nil
	default:
		return nil, domain.ErrQuestionMismatch
	}
}

func (h *WSHandler) send(conn *websocket.Conn, msgType string, payload any) {
	if err := conn.WriteJSON(outboundMessage[any]{Type: msgType, Payload: payload}); err != nil {
		h.log.Warn("ws write failed", zap.Error(err))
	}
}

// sendError maps expected engine conditions to benign messages; anything
// else is logged and surfaced generically.
func (h *WSHandler) sendError(conn *websocket.Conn, err error) {
	switch {
	case errors.Is(err, domain.ErrNoActiveQuiz),
		errors.Is(err, domain.ErrNoQuestionsAvailable),
		errors.Is(err, domain.ErrTopicNotFound),
		errors.Is(err, domain.ErrQuestionMismatch):
		h.send(conn, "error", errorPayload{Message: err.Error()})
	default:
		h.log.Error("engine operation failed", zap.Error(err))
		h.send(conn, "error", errorPayload{Message: "internal error"})
	}
}
