// Package indexer scans project trees into a searchable code index. File
// content hashes are cached in sqlite so a reindex only pays for what
// changed; entity snippets are upserted into the vector index for the
// context assembler to retrieve.
package indexer

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/logger"
	"github.com/nestorlabs/nestor/pkg/vector"
)

const schema = `
CREATE TABLE IF NOT EXISTS file_hashes (
	project_path   TEXT NOT NULL,
	file_path      TEXT NOT NULL,
	content_hash   TEXT NOT NULL,
	size_bytes     INTEGER NOT NULL,
	last_indexed   TIMESTAMP NOT NULL,
	entities_count INTEGER NOT NULL,
	PRIMARY KEY (project_path, file_path)
);

CREATE TABLE IF NOT EXISTS project_stats (
	project_path           TEXT PRIMARY KEY,
	last_full_index        TIMESTAMP,
	last_incremental_index TIMESTAMP,
	total_files            INTEGER NOT NULL,
	total_entities         INTEGER NOT NULL
);
`

// maxFileSize skips generated bundles and data files masquerading as code.
const maxFileSize = 1 << 20

// Indexer owns the hash cache and the vector collection for code entities.
type Indexer struct {
	cfg   *config.IndexerConfig
	db    *sql.DB
	index *vector.EmbeddingIndex
	log   *slog.Logger
}

// Stats reports one IndexProject run.
type Stats struct {
	FilesScanned int `json:"files_scanned"`
	FilesIndexed int `json:"files_indexed"`
	FilesSkipped int `json:"files_skipped"`
	Entities     int `json:"entities"`
}

// ProjectStats is the cumulative per-project record. The first pass over a
// project is the full index; later passes are incremental.
type ProjectStats struct {
	ProjectPath          string    `json:"project_path"`
	TotalFiles           int       `json:"total_files"`
	TotalEntities        int       `json:"total_entities"`
	LastFullIndex        time.Time `json:"last_full_index"`
	LastIncrementalIndex time.Time `json:"last_incremental_index,omitempty"`
}

// Open initializes the cache database. The vector index is optional; with
// nil the indexer still maintains the hash cache and stats.
func Open(cfg *config.IndexerConfig, index *vector.EmbeddingIndex) (*Indexer, error) {
	if dir := filepath.Dir(cfg.CachePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("[indexer] failed to create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", cfg.CachePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("[indexer] opening cache: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("[indexer] initializing schema: %w", err)
	}
	return &Indexer{
		cfg:   cfg,
		db:    db,
		index: index,
		log:   logger.Component("indexer"),
	}, nil
}

func (ix *Indexer) Close() error { return ix.db.Close() }

// IndexProject walks projectPath and indexes every included file whose
// content hash changed since the last run.
func (ix *Indexer) IndexProject(ctx context.Context, projectPath string) (*Stats, error) {
	projectPath, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("[indexer] resolving project path: %w", err)
	}
	if _, err := os.Stat(projectPath); err != nil {
		return nil, fmt.Errorf("[indexer] project path: %w", err)
	}

	stats := &Stats{}
	start := time.Now()

	err = filepath.WalkDir(projectPath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if ix.excluded(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !ix.included(d.Name()) {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxFileSize {
			return nil
		}

		stats.FilesScanned++
		rel, _ := filepath.Rel(projectPath, path)
		indexed, entities, err := ix.indexFile(ctx, projectPath, rel, path)
		if err != nil {
			ix.log.Warn("file index failed", "file", rel, "error", err)
			return nil
		}
		if indexed {
			stats.FilesIndexed++
			stats.Entities += entities
		} else {
			stats.FilesSkipped++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := ix.updateProjectStats(ctx, projectPath, stats); err != nil {
		ix.log.Warn("project stats update failed", "error", err)
	}
	ix.log.Info("project indexed",
		"project", projectPath,
		"scanned", stats.FilesScanned,
		"indexed", stats.FilesIndexed,
		"skipped", stats.FilesSkipped,
		"entities", stats.Entities,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return stats, nil
}

// indexFile reindexes one file unless its hash matches the cache. Returns
// whether it was (re)indexed and how many entities it yielded.
func (ix *Indexer) indexFile(ctx context.Context, projectPath, rel, path string) (bool, int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return false, 0, err
	}
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	var cached string
	err = ix.db.QueryRowContext(ctx,
		`SELECT content_hash FROM file_hashes WHERE project_path = ? AND file_path = ?`,
		projectPath, rel).Scan(&cached)
	if err == nil && cached == hash {
		return false, 0, nil
	}
	if err != nil && err != sql.ErrNoRows {
		return false, 0, err
	}

	entities := ExtractEntities(rel, content)
	if ix.index != nil {
		for _, e := range entities {
			id := entityID(projectPath, rel, e)
			doc := fmt.Sprintf("%s %s in %s\n%s", e.Kind, e.Name, rel, e.Snippet)
			if err := ix.index.UpsertText(ctx, ix.cfg.Collection, id, doc, map[string]string{
				"project":  projectPath,
				"file":     rel,
				"name":     e.Name,
				"kind":     e.Kind,
				"language": e.Language,
				"line":     fmt.Sprintf("%d", e.Line),
			}); err != nil {
				ix.log.Debug("entity upsert failed", "entity", e.Name, "error", err)
			}
		}
	}

	_, err = ix.db.ExecContext(ctx, `
		INSERT INTO file_hashes (project_path, file_path, content_hash, size_bytes, last_indexed, entities_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_path, file_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes,
			last_indexed = excluded.last_indexed,
			entities_count = excluded.entities_count`,
		projectPath, rel, hash, len(content), time.Now().UTC(), len(entities))
	if err != nil {
		return false, 0, err
	}
	return true, len(entities), nil
}

func entityID(projectPath, rel string, e CodeEntity) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", projectPath, rel, e.Kind, e.Name)))
	return hex.EncodeToString(sum[:])[:24]
}

func (ix *Indexer) updateProjectStats(ctx context.Context, projectPath string, _ *Stats) error {
	var files, entities int
	err := ix.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(entities_count), 0)
		FROM file_hashes WHERE project_path = ?`, projectPath).Scan(&files, &entities)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := ix.db.ExecContext(ctx, `
		UPDATE project_stats
		SET total_files = ?, total_entities = ?, last_incremental_index = ?
		WHERE project_path = ?`,
		files, entities, now, projectPath)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = ix.db.ExecContext(ctx, `
			INSERT INTO project_stats (project_path, last_full_index, total_files, total_entities)
			VALUES (?, ?, ?, ?)`,
			projectPath, now, files, entities)
	}
	return err
}

// ProjectStats returns the cumulative record for a project, or nil when it
// was never indexed.
func (ix *Indexer) ProjectStats(ctx context.Context, projectPath string) (*ProjectStats, error) {
	projectPath, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, err
	}
	ps := &ProjectStats{ProjectPath: projectPath}
	var full, incremental sql.NullTime
	err = ix.db.QueryRowContext(ctx, `
		SELECT total_files, total_entities, last_full_index, last_incremental_index
		FROM project_stats WHERE project_path = ?`, projectPath).
		Scan(&ps.TotalFiles, &ps.TotalEntities, &full, &incremental)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ps.LastFullIndex = full.Time
	ps.LastIncrementalIndex = incremental.Time
	return ps, nil
}

func (ix *Indexer) excluded(dirName string) bool {
	for _, pattern := range ix.cfg.Exclude {
		if dirName == pattern {
			return true
		}
	}
	return strings.HasPrefix(dirName, ".") && dirName != "."
}

func (ix *Indexer) included(fileName string) bool {
	for _, pattern := range ix.cfg.Include {
		if ok, _ := filepath.Match(pattern, fileName); ok {
			return true
		}
	}
	return false
}
