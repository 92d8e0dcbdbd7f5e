// Package loader turns JSON dataset files into document records.
package loader

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/linyone/chatrag/internal/domain/entities"
)

// Rule extracts zero or more records from one dataset item.
// Rules are independent: every rule is applied to every item.
type Rule func(item gjson.Result, source string) []entities.DocumentRecord

// DatasetLoader reads JSON array files and applies extraction rules.
type DatasetLoader struct {
	rules []Rule
}

// NewDatasetLoader creates a loader. With no rules it uses DefaultRules.
func NewDatasetLoader(rules ...Rule) *DatasetLoader {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &DatasetLoader{rules: rules}
}

// DefaultRules are the therapy-session, triple and Q/A extractors.
func DefaultRules() []Rule {
	return []Rule{TherapySessionRule, TripleRule, QARule}
}

// LoadAll loads every path in order. Files that are missing, unparseable or
// not JSON arrays are skipped with a warning.
func (l *DatasetLoader) LoadAll(ctx context.Context, paths []string) []entities.DocumentRecord {
	var records []entities.DocumentRecord
	for _, p := range paths {
		if ctx.Err() != nil {
			break
		}
		recs, err := l.Load(ctx, p)
		if err != nil {
			log.Printf("[WARN] skipping dataset %s: %v", p, err)
			continue
		}
		records = append(records, recs...)
	}
	return records
}

// Load reads a single dataset file.
func (l *DatasetLoader) Load(ctx context.Context, path string) ([]entities.DocumentRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("not a JSON array")
	}

	items := root.Array()
	log.Printf("[INFO] Loaded %d items from %s", len(items), path)

	source := filepath.Base(path)
	var records []entities.DocumentRecord
	for _, item := range items {
		if !item.IsObject() {
			continue
		}
		for _, rule := range l.rules {
			for _, rec := range rule(item, source) {
				rec.Text = strings.TrimSpace(rec.Text)
				if rec.Text == "" {
					continue
				}
				records = append(records, rec)
			}
		}
	}
	return records, nil
}

// TherapySessionRule emits one record for a "full_conversation" item.
func TherapySessionRule(item gjson.Result, source string) []entities.DocumentRecord {
	convo := item.Get("full_conversation")
	if !convo.Exists() {
		return nil
	}
	topic := firstNonEmpty(item.Get("session_topic").String(), item.Get("trauma_type").String(), "session")
	text := topic + "\n" + strings.Join(stringsOf(convo), "\n")
	return []entities.DocumentRecord{{
		Text:   text,
		Source: source,
		Meta: entities.RecordMeta{
			Type:      entities.RecordTherapySession,
			Topic:     topic,
			SessionID: item.Get("subject_id").String(),
		},
	}}
}

// TripleRule emits one record per entry of "three_turn_sequences".
func TripleRule(item gjson.Result, source string) []entities.DocumentRecord {
	seqs := item.Get("three_turn_sequences")
	if !seqs.IsArray() {
		return nil
	}
	sessionID := item.Get("subject_id").String()
	var out []entities.DocumentRecord
	for _, triple := range seqs.Array() {
		out = append(out, entities.DocumentRecord{
			Text:   strings.Join(stringsOf(triple), "\n"),
			Source: source,
			Meta:   entities.RecordMeta{Type: entities.RecordTriple, SessionID: sessionID},
		})
	}
	return out
}

// QARule emits a "Q: ...\nA: ..." record when both "q" and "a" are present.
func QARule(item gjson.Result, source string) []entities.DocumentRecord {
	q, a := item.Get("q"), item.Get("a")
	if !q.Exists() || !a.Exists() {
		return nil
	}
	return []entities.DocumentRecord{{
		Text:   fmt.Sprintf("Q: %s\nA: %s", q.String(), a.String()),
		Source: source,
		Meta:   entities.RecordMeta{Type: entities.RecordQA},
	}}
}

func stringsOf(v gjson.Result) []string {
	if !v.IsArray() {
		if s := v.String(); s != "" {
			return []string{s}
		}
		return nil
	}
	arr := v.Array()
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		out = append(out, e.String())
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
