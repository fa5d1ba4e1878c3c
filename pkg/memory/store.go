// Package memory implements the durable long-term store: past solutions
// with quality signals and a semantic search over them, failed-task records,
// user preferences, and per-(model, task-type) performance counters.
//
// Writes never propagate failures to callers: they are logged and swallowed
// so the execution critical path cannot be blocked by storage trouble. Reads
// degrade to empty results.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/embedders"
	"github.com/nestorlabs/nestor/pkg/logger"
)

// Task types tracked by the model performance counters.
const (
	TaskTypeCode      = "code"
	TaskTypeChat      = "chat"
	TaskTypeAnalysis  = "analysis"
	TaskTypeReasoning = "reasoning"
)

// Record is one remembered (task, solution) pair with quality signals.
type Record struct {
	ID            string
	Task          string
	Solution      string
	Agent         string
	Metadata      map[string]interface{}
	CreatedAt     time.Time
	SuccessCount  int
	QualityScore  float64
	FeedbackCount int
	AvgRating     float64
	HelpfulCount  int
	LastUsed      time.Time
}

// SimilarResult is a search hit with its similarity score.
type SimilarResult struct {
	Record
	Similarity float64
}

// FailedTask records an agent failure for later error avoidance.
type FailedTask struct {
	Task         string
	Agent        string
	ErrorKind    string
	ErrorMessage string
	ErrorContext string
	CreatedAt    time.Time
}

// ModelStats summarizes a model's track record for one task type.
type ModelStats struct {
	Model       string
	TaskType    string
	SuccessRate float64
	AvgQuality  float64
	AvgDuration time.Duration
	Samples     int
}

// Store is the sqlite-backed memory store. A single connection with
// explicit transactions keeps record-level writes atomic; there are no
// cross-record transactional invariants.
type Store struct {
	db       *sql.DB
	cfg      *config.MemoryConfig
	embedder embedders.Embedder
	log      *slog.Logger

	// mu serializes write transactions; sqlite allows one writer.
	mu sync.Mutex
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    task TEXT NOT NULL,
    solution TEXT NOT NULL,
    agent TEXT NOT NULL,
    metadata TEXT,
    embedding TEXT,
    created_at TIMESTAMP NOT NULL,
    success_count INTEGER NOT NULL DEFAULT 1,
    quality_score REAL NOT NULL DEFAULT 50,
    feedback_count INTEGER NOT NULL DEFAULT 0,
    avg_rating REAL NOT NULL DEFAULT 0,
    is_helpful_count INTEGER NOT NULL DEFAULT 0,
    last_used TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_quality ON memories(quality_score DESC);

CREATE TABLE IF NOT EXISTS failed_tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task TEXT NOT NULL,
    agent TEXT NOT NULL,
    error_kind TEXT NOT NULL,
    error_message TEXT NOT NULL,
    error_context TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS user_preferences (
    user_id TEXT NOT NULL DEFAULT 'default',
    key TEXT NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (user_id, key)
);

CREATE TABLE IF NOT EXISTS model_task_stats (
    model TEXT NOT NULL,
    task_type TEXT NOT NULL,
    success_count INTEGER NOT NULL DEFAULT 0,
    failure_count INTEGER NOT NULL DEFAULT 0,
    sum_quality REAL NOT NULL DEFAULT 0,
    sum_duration_ms INTEGER NOT NULL DEFAULT 0,
    samples INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (model, task_type)
);

CREATE TABLE IF NOT EXISTS error_patterns (
    agent TEXT NOT NULL,
    pattern TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 1,
    last_seen TIMESTAMP NOT NULL,
    PRIMARY KEY (agent, pattern)
);

CREATE TABLE IF NOT EXISTS reflection_outcomes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    agent TEXT NOT NULL,
    quality REAL NOT NULL,
    corrected INTEGER NOT NULL,
    attempts INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

// migrateColumns adds columns introduced after the first release. Each
// statement is idempotent: duplicate-column errors are ignored.
var migrateColumns = []string{
	`ALTER TABLE memories ADD COLUMN feedback_count INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE memories ADD COLUMN avg_rating REAL NOT NULL DEFAULT 0`,
	`ALTER TABLE memories ADD COLUMN is_helpful_count INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE memories ADD COLUMN last_used TIMESTAMP`,
}

// Open opens (creating if needed) the memory database at cfg.Path. The
// embedder may be nil, in which case semantic search degrades to substring
// matching.
func Open(cfg *config.MemoryConfig, embedder embedders.Embedder) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("[memory] config is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("[memory] failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("[memory] failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		db:       db,
		cfg:      cfg,
		embedder: embedder,
		log:      logger.Component("memory"),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("[memory] failed to initialize schema: %w", err)
	}
	for _, stmt := range migrateColumns {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			// Column already present on re-open.
			continue
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func marshalJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

func unmarshalMetadata(raw string) map[string]interface{} {
	if raw == "" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func marshalEmbedding(vec []float32) string {
	if len(vec) == 0 {
		return ""
	}
	return marshalJSON(vec)
}

func unmarshalEmbedding(raw string) []float32 {
	if raw == "" {
		return nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil
	}
	return vec
}

// newID returns a fresh memory record id.
func newID() string { return uuid.NewString() }
