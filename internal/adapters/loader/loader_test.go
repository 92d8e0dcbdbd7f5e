package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linyone/chatrag/internal/domain/entities"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDatasetLoader_SessionAndTriples(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "therapy_sessions.json", `[
		{
			"subject_id": 7,
			"session_topic": "grief",
			"full_conversation": ["T: How are you?", "C: Not great."],
			"three_turn_sequences": [
				["T: hi", "C: hello", "T: welcome"],
				["T: breathe", "C: ok", "T: good"]
			]
		}
	]`)

	records, err := NewDatasetLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "grief\nT: How are you?\nC: Not great.", records[0].Text)
	assert.Equal(t, entities.RecordTherapySession, records[0].Meta.Type)
	assert.Equal(t, "grief", records[0].Meta.Topic)
	assert.Equal(t, "7", records[0].Meta.SessionID)
	assert.Equal(t, "therapy_sessions.json", records[0].Source)

	assert.Equal(t, "T: hi\nC: hello\nT: welcome", records[1].Text)
	assert.Equal(t, entities.RecordTriple, records[1].Meta.Type)
	assert.Equal(t, entities.RecordTriple, records[2].Meta.Type)
}

func TestDatasetLoader_TopicFallback(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "s.json", `[
		{"trauma_type": "earthquake", "full_conversation": ["a"]},
		{"full_conversation": ["b"]}
	]`)

	records, err := NewDatasetLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "earthquake", records[0].Meta.Topic)
	assert.Equal(t, "session", records[1].Meta.Topic)
	assert.Equal(t, "session\nb", records[1].Text)
}

func TestDatasetLoader_QA(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mental_qa.json", `[{"q": "What is anxiety?", "a": "A feeling of worry."}, {"q": "only q"}]`)

	records, err := NewDatasetLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Q: What is anxiety?\nA: A feeling of worry.", records[0].Text)
	assert.Equal(t, entities.RecordQA, records[0].Meta.Type)
}

func TestDatasetLoader_SkipsEmptyText(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "e.json", `[{"three_turn_sequences": [["", "  "], []]}]`)

	records, err := NewDatasetLoader().Load(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDatasetLoader_LoadAllSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.json", `[{"q": "q1", "a": "a1"}]`)
	notArray := writeFile(t, dir, "object.json", `{"q": "q", "a": "a"}`)
	broken := writeFile(t, dir, "broken.json", `[{"q": `)
	missing := filepath.Join(dir, "missing.json")

	records := NewDatasetLoader().LoadAll(context.Background(), []string{notArray, broken, missing, good})
	require.Len(t, records, 1)
	assert.Equal(t, "good.json", records[0].Source)
}

func TestDatasetLoader_CustomRules(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "qa.json", `[{"q": "x", "a": "y", "full_conversation": ["z"]}]`)

	records, err := NewDatasetLoader(QARule).Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, entities.RecordQA, records[0].Meta.Type)
}
