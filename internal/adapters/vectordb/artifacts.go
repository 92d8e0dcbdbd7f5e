package vectordb

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/linyone/chatrag/internal/domain/entities"
	"github.com/linyone/chatrag/internal/domain/ports"
)

// Artifact file names inside the vectors directory.
const (
	IndexFile = "vectors.db"
	MetaFile  = "meta.jsonl"
	ModelFile = "model.json"
)

// ErrArtifactsMissing means no index has been published to the directory.
var ErrArtifactsMissing = errors.New("index artifacts not found")

const buildPrefix = "build-"

// ArtifactStore publishes and loads the three index artifacts.
//
// A publish writes vectors.db and meta.jsonl into a fresh build directory,
// then atomically replaces the top-level model.json, which names the build.
// Readers resolve the build through model.json, so they see either the old
// set or the new one, never a mix. Older layouts with the artifacts directly
// in the directory and no build name are still readable.
type ArtifactStore struct {
	dir string
}

// NewArtifactStore creates a store rooted at dir.
func NewArtifactStore(dir string) *ArtifactStore {
	if dir == "" {
		dir = "./vectors"
	}
	return &ArtifactStore{dir: dir}
}

// CurrentDir is the directory holding the artifacts model.json points at.
func (s *ArtifactStore) CurrentDir() string {
	if b := s.currentBuild(); b != "" {
		return filepath.Join(s.dir, b)
	}
	return s.dir
}

// metaLine is one line of meta.jsonl.
type metaLine struct {
	ID     int                 `json:"id"`
	Text   string              `json:"text"`
	Source string              `json:"source"`
	Meta   entities.RecordMeta `json:"meta"`
}

// modelFile is the content of the top-level model.json.
type modelFile struct {
	entities.ModelInfo
	Build string `json:"build,omitempty"`
}

type vectorRow struct {
	ID        int    `db:"id"`
	Embedding []byte `db:"embedding"`
}

// Publish writes a new build and switches model.json to it. Reruns replace
// the previous artifacts atomically; a failed publish leaves them untouched.
func (s *ArtifactStore) Publish(ctx context.Context, records []entities.DocumentRecord, vectors [][]float32, info entities.ModelInfo) error {
	if len(records) != len(vectors) {
		return fmt.Errorf("records and vectors length mismatch: %d != %d", len(records), len(vectors))
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("creating vectors directory: %w", err)
	}

	id := uuid.NewString()
	build := buildPrefix + id
	staging := filepath.Join(s.dir, ".staging-"+id)
	if err := os.Mkdir(staging, 0755); err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	if err := writeBuild(ctx, staging, records, vectors, info); err != nil {
		os.RemoveAll(staging)
		return err
	}
	buildDir := filepath.Join(s.dir, build)
	if err := os.Rename(staging, buildDir); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("publishing build: %w", err)
	}

	previous := s.currentBuild()
	model, err := json.Marshal(modelFile{ModelInfo: info, Build: build})
	if err != nil {
		os.RemoveAll(buildDir)
		return fmt.Errorf("encoding model info: %w", err)
	}
	if err := writeAtomic(filepath.Join(s.dir, ModelFile), model); err != nil {
		os.RemoveAll(buildDir)
		return err
	}
	s.prune(build, previous)
	return nil
}

// writeBuild fills dir with vectors.db, meta.jsonl and a copy of model.json.
func writeBuild(ctx context.Context, dir string, records []entities.DocumentRecord, vectors [][]float32, info entities.ModelInfo) error {
	if err := writeIndex(ctx, filepath.Join(dir, IndexFile), vectors, info); err != nil {
		return err
	}

	var meta bytes.Buffer
	enc := json.NewEncoder(&meta)
	enc.SetEscapeHTML(false)
	for i, r := range records {
		if err := enc.Encode(metaLine{ID: i, Text: r.Text, Source: r.Source, Meta: r.Meta}); err != nil {
			return fmt.Errorf("encoding metadata %d: %w", i, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, MetaFile), meta.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", MetaFile, err)
	}

	model, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding model info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ModelFile), model, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", ModelFile, err)
	}
	return nil
}

// currentBuild is the build named by model.json, or "" if there is none.
func (s *ArtifactStore) currentBuild() string {
	m, err := readModelFile(filepath.Join(s.dir, ModelFile))
	if err != nil {
		return ""
	}
	return m.Build
}

// prune removes builds other than current and previous. Previous is kept so
// a server still reading it is not cut off mid-load.
func (s *ArtifactStore) prune(current, previous string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, buildPrefix) || name == current || name == previous {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, name)); err != nil {
			log.Printf("[WARN] Removing old build %s: %v", name, err)
		}
	}
	// artifacts from the flat layout are superseded by the build
	for _, name := range []string{IndexFile, MetaFile} {
		os.Remove(filepath.Join(s.dir, name))
	}
}

func writeIndex(ctx context.Context, path string, vectors [][]float32, info entities.ModelInfo) error {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return fmt.Errorf("opening index database: %w", err)
	}
	if err := fillIndex(ctx, db, vectors, info); err != nil {
		db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("closing index database: %w", err)
	}
	return nil
}

func fillIndex(ctx context.Context, db *sqlx.DB, vectors [][]float32, info entities.ModelInfo) error {
	schema := `
	CREATE TABLE vectors (
		id INTEGER PRIMARY KEY,
		embedding BLOB NOT NULL
	);
	CREATE TABLE index_info (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO vectors (id, embedding) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for i, v := range vectors {
		if _, err := stmt.ExecContext(ctx, i, encodeVector(v)); err != nil {
			return fmt.Errorf("inserting vector %d: %w", i, err)
		}
	}

	infoRows := map[string]string{
		"dimension": strconv.Itoa(info.Dimension),
		"count":     strconv.Itoa(len(vectors)),
		"model":     info.Model,
		"metric":    "inner_product",
	}
	for k, v := range infoRows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO index_info (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("writing index info: %w", err)
		}
	}
	return tx.Commit()
}

// Load reads the build named by model.json. It returns ErrArtifactsMissing
// when nothing has been published.
func (s *ArtifactStore) Load(ctx context.Context) (*ports.Artifacts, error) {
	m, err := readModelFile(filepath.Join(s.dir, ModelFile))
	if err != nil {
		log.Printf("[WARN] ignoring unreadable %s: %v", ModelFile, err)
		m = modelFile{}
	}
	dir := s.dir
	if m.Build != "" {
		dir = filepath.Join(s.dir, m.Build)
	}

	indexPath := filepath.Join(dir, IndexFile)
	if _, err := os.Stat(indexPath); errors.Is(err, os.ErrNotExist) {
		return nil, ErrArtifactsMissing
	}
	index, err := loadIndex(ctx, indexPath)
	if err != nil {
		return nil, err
	}
	records, err := loadMeta(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, err
	}
	info := m.ModelInfo
	if info.Dimension == 0 {
		info.Dimension = index.Dimension()
	}
	return &ports.Artifacts{Index: index, Records: records, Model: info}, nil
}

func loadIndex(ctx context.Context, path string) (*FlatIndex, error) {
	db, err := sqlx.Connect("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}
	defer db.Close()

	var dimText string
	if err := db.GetContext(ctx, &dimText, `SELECT value FROM index_info WHERE key = 'dimension'`); err != nil {
		return nil, fmt.Errorf("reading index dimension: %w", err)
	}
	dim, err := strconv.Atoi(dimText)
	if err != nil {
		return nil, fmt.Errorf("bad index dimension %q: %w", dimText, err)
	}

	var rows []vectorRow
	if err := db.SelectContext(ctx, &rows, `SELECT id, embedding FROM vectors ORDER BY id`); err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	vectors := make([][]float32, len(rows))
	for i, r := range rows {
		if r.ID != i {
			return nil, fmt.Errorf("vector ids not contiguous at position %d (id %d)", i, r.ID)
		}
		vectors[i] = decodeVector(r.Embedding)
	}
	return NewFlatIndex(dim, vectors)
}

func loadMeta(path string) ([]entities.DocumentRecord, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("[WARN] %s not found; retrieval results will have no metadata", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening metadata: %w", err)
	}
	defer f.Close()

	var records []entities.DocumentRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var m metaLine
		if err := json.Unmarshal(line, &m); err != nil {
			continue // skip corrupted lines
		}
		records = append(records, entities.DocumentRecord{Text: m.Text, Source: m.Source, Meta: m.Meta})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	return records, nil
}

// readModelFile returns an empty modelFile when path does not exist.
func readModelFile(path string) (modelFile, error) {
	var m modelFile
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("reading model info: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return modelFile{}, fmt.Errorf("decoding model info: %w", err)
	}
	return m, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
