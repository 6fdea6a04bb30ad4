package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"history-quiz-engine/internal/domain"
	"history-quiz-engine/internal/infra/memory"
)

func activeSession(now time.Time) *domain.QuizSession {
	return &domain.QuizSession{
		TopicID: 1,
		Questions: []domain.Question{
			{ID: 1, Text: "single", Options: []string{"a", "b"}, Type: domain.QuestionSingle, Correct: []int{0}},
			{ID: 2, Text: "multi", Options: []string{"a", "b", "c"}, Type: domain.QuestionMultiple, Correct: []int{0, 2}},
			{ID: 3, Text: "seq", Options: []string{"a", "b", "c"}, Type: domain.QuestionSequence, Correct: []int{2, 0, 1}},
		},
		CurrentIndex: 2,
		Answers: map[string]domain.Answer{
			"1": domain.SingleAnswer(1),
			"2": domain.MultipleAnswer{2, 0},
			"3": domain.SequenceAnswer{"2", "0"},
		},
		StartTime: now.UTC(),
		EndTime:   now.UTC().Add(5 * time.Minute),
		TimeLimit: 300,
	}
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	source := memory.NewSessionStore()
	source.Put(42, activeSession(now))

	store := NewStore(dir, source, time.Second, zap.NewNop())
	store.clock = func() time.Time { return now }
	if err := store.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "user_42.json")); err != nil {
		t.Fatalf("expected per-user file: %v", err)
	}

	target := memory.NewSessionStore()
	restoreStore := NewStore(dir, target, time.Second, zap.NewNop())
	restoreStore.clock = func() time.Time { return now.Add(time.Minute) }
	restored, err := restoreStore.Restore()
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored != 1 {
		t.Fatalf("restored %d sessions, want 1", restored)
	}

	session, ok := target.Get(42)
	if !ok {
		t.Fatalf("restored session missing")
	}
	if session.CurrentIndex != 2 || session.TopicID != 1 || session.TimeLimit != 300 {
		t.Fatalf("restored header mismatch: %+v", session)
	}
	if !session.StartTime.Equal(now) || !session.EndTime.Equal(now.Add(5*time.Minute)) {
		t.Fatalf("restored times mismatch: %v .. %v", session.StartTime, session.EndTime)
	}
	if got := session.Answers["1"]; got != domain.SingleAnswer(1) {
		t.Fatalf("single answer = %#v", got)
	}
	if got, ok := session.Answers["2"].(domain.MultipleAnswer); !ok || len(got) != 2 || got[0] != 2 || got[1] != 0 {
		t.Fatalf("multiple answer = %#v", session.Answers["2"])
	}
	if got, ok := session.Answers["3"].(domain.SequenceAnswer); !ok || len(got) != 2 || got[0] != "2" || got[1] != "0" {
		t.Fatalf("sequence answer = %#v", session.Answers["3"])
	}
	if len(session.Questions) != 3 || session.Questions[2].Correct[0] != 2 {
		t.Fatalf("restored questions mismatch: %+v", session.Questions)
	}
}

func TestRestoreDiscardsExpired(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	source := memory.NewSessionStore()
	source.Put(7, activeSession(now))
	store := NewStore(dir, source, time.Second, zap.NewNop())
	store.clock = func() time.Time { return now }
	if err := store.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	target := memory.NewSessionStore()
	late := NewStore(dir, target, time.Second, zap.NewNop())
	late.clock = func() time.Time { return now.Add(time.Hour) }
	restored, err := late.Restore()
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored != 0 {
		t.Fatalf("expired session restored")
	}
	if _, ok := target.Get(7); ok {
		t.Fatalf("expired session resurrected into store")
	}
	if _, err := os.Stat(filepath.Join(dir, "user_7.json")); !os.IsNotExist(err) {
		t.Fatalf("expired snapshot file not deleted")
	}
}

func TestRestoreSkipsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	source := memory.NewSessionStore()
	source.Put(1, activeSession(now))
	store := NewStore(dir, source, time.Second, zap.NewNop())
	store.clock = func() time.Time { return now }
	if err := store.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "user_2.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	target := memory.NewSessionStore()
	restoreStore := NewStore(dir, target, time.Second, zap.NewNop())
	restoreStore.clock = func() time.Time { return now }
	restored, err := restoreStore.Restore()
	if err != nil {
		t.Fatalf("restore must not fail on one bad file: %v", err)
	}
	if restored != 1 {
		t.Fatalf("restored %d sessions, want 1", restored)
	}
	if _, err := os.Stat(filepath.Join(dir, "user_2.json")); !os.IsNotExist(err) {
		t.Fatalf("corrupt file not removed")
	}
}

func TestSaveCleansUpStaleFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	source := memory.NewSessionStore()
	source.Put(1, activeSession(now))
	source.Put(2, activeSession(now))
	store := NewStore(dir, source, time.Second, zap.NewNop())
	store.clock = func() time.Time { return now }
	if err := store.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	// User 2 finishes; the next pass must drop their file.
	source.Delete(2)
	if err := store.Save(); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "user_1.json")); err != nil {
		t.Fatalf("active file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "user_2.json")); !os.IsNotExist(err) {
		t.Fatalf("stale file survived cleanup")
	}
}

func TestManifestAndWireFormat(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	source := memory.NewSessionStore()
	source.Put(5, activeSession(now))
	store := NewStore(dir, source, time.Second, zap.NewNop())
	store.clock = func() time.Time { return now }
	if err := store.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	var m manifest
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if m.Version != formatVersion || m.ActiveCount != 1 || !m.SavedAt.Equal(now) {
		t.Fatalf("manifest = %+v", m)
	}

	// The per-user file carries the raw per-type answer shapes.
	var raw map[string]json.RawMessage
	data, err = os.ReadFile(filepath.Join(dir, "user_5.json"))
	if err != nil {
		t.Fatalf("read session file: %v", err)
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal session file: %v", err)
	}
	for _, field := range []string{"topicId", "questions", "currentIndex", "answers", "startTime", "endTime", "timeLimit", "isCompleted", "_savedAt", "_version"} {
		if _, ok := raw[field]; !ok {
			t.Fatalf("session file missing field %q", field)
		}
	}
	var answers map[string]json.RawMessage
	if err := json.Unmarshal(raw["answers"], &answers); err != nil {
		t.Fatalf("unmarshal answers: %v", err)
	}
	if string(answers["1"]) != "1" {
		t.Fatalf("single answer wire shape = %s, want bare index", answers["1"])
	}
	if string(answers["2"]) != "[2,0]" {
		t.Fatalf("multiple answer wire shape = %s", answers["2"])
	}
	if string(answers["3"]) != `["2","0"]` {
		t.Fatalf("sequence answer wire shape = %s", answers["3"])
	}
}

func TestRestoreToleratesMixedLegacyShapes(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// Older files stored sequence elements and correct answers as mixed
	// ints and strings; both must decode.
	legacy := `{
		"topicId": 1,
		"questions": [
			{"id": 3, "text": "seq", "options": ["a","b","c"], "questionType": "sequence", "correctAnswer": [2, "0", 1]}
		],
		"currentIndex": 0,
		"answers": {"3": [2, "0"]},
		"startTime": "2025-03-01T12:00:00Z",
		"endTime": "2025-03-01T12:30:00Z",
		"timeLimit": 1200,
		"isCompleted": false,
		"_savedAt": "2025-03-01T12:01:00Z",
		"_version": 1
	}`
	if err := os.WriteFile(filepath.Join(dir, "user_9.json"), []byte(legacy), 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	target := memory.NewSessionStore()
	store := NewStore(dir, target, time.Second, zap.NewNop())
	store.clock = func() time.Time { return now }
	if _, err := store.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}

	session, ok := target.Get(9)
	if !ok {
		t.Fatalf("legacy session not restored")
	}
	if got := session.Questions[0].Correct; len(got) != 3 || got[0] != 2 || got[1] != 0 || got[2] != 1 {
		t.Fatalf("legacy correct answer = %v", got)
	}
	seq, ok := session.Answers["3"].(domain.SequenceAnswer)
	if !ok || len(seq) != 2 || seq[0] != "2" || seq[1] != "0" {
		t.Fatalf("legacy sequence answer = %#v", session.Answers["3"])
	}
}
