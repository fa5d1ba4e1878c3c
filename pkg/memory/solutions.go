package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nestorlabs/nestor/pkg/vector"
)

// QualityScore derives the 0-100 quality scalar from feedback counters:
// 40% normalized average rating, 40% helpful rate, 20% feedback volume
// saturating at ten ratings.
func QualityScore(avgRating float64, helpfulCount, feedbackCount int) float64 {
	if feedbackCount <= 0 {
		return 50
	}
	helpfulRate := float64(helpfulCount) / float64(feedbackCount)
	volume := float64(feedbackCount) / 10
	if volume > 1 {
		volume = 1
	}
	return 0.4*(avgRating/5*100) + 0.4*helpfulRate*100 + 0.2*volume*100
}

// SaveSolution persists a successful (task, solution) pair with the neutral
// initial quality. Failures are logged and swallowed; the returned id is
// empty when nothing was written.
func (s *Store) SaveSolution(ctx context.Context, task, solution, agent string, metadata map[string]interface{}, modelUsed string) string {
	return s.SaveSolutionScored(ctx, task, solution, agent, metadata, modelUsed, 50)
}

// SaveSolutionScored is SaveSolution with an explicit initial quality score,
// used when an evaluator already graded the solution.
func (s *Store) SaveSolutionScored(ctx context.Context, task, solution, agent string, metadata map[string]interface{}, modelUsed string, quality float64) string {
	if modelUsed != "" {
		if metadata == nil {
			metadata = map[string]interface{}{}
		}
		metadata["model_used"] = modelUsed
	}

	var embedding []float32
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, task)
		if err != nil {
			s.log.Debug("task embedding failed, storing without vector", "error", err)
		} else {
			embedding = vec
		}
	}

	if quality < 0 {
		quality = 0
	} else if quality > 100 {
		quality = 100
	}

	id := newID()
	now := time.Now().UTC()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memories (id, task, solution, agent, metadata, embedding, created_at, quality_score, last_used)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, task, solution, agent, marshalJSON(metadata), marshalEmbedding(embedding), now, quality, now)
		return err
	})
	if err != nil {
		s.log.Warn("failed to save solution", "agent", agent, "error", err)
		return ""
	}

	s.cleanupIfNeeded(ctx)
	return id
}

type scoredRow struct {
	rec        Record
	similarity float64
}

func scanRecord(rows *sql.Rows) (Record, string, error) {
	var rec Record
	var metadata, embedding string
	var lastUsed sql.NullTime
	err := rows.Scan(&rec.ID, &rec.Task, &rec.Solution, &rec.Agent, &metadata, &embedding,
		&rec.CreatedAt, &rec.SuccessCount, &rec.QualityScore, &rec.FeedbackCount,
		&rec.AvgRating, &rec.HelpfulCount, &lastUsed)
	if err != nil {
		return rec, "", err
	}
	rec.Metadata = unmarshalMetadata(metadata)
	if lastUsed.Valid {
		rec.LastUsed = lastUsed.Time
	}
	return rec, embedding, nil
}

const selectRecordColumns = `id, task, solution, agent, metadata, embedding, created_at,
	success_count, quality_score, feedback_count, avg_rating, is_helpful_count, last_used`

// scoredRows loads all records and attaches cosine similarity against the
// query. When no query embedding is available the similarity is -1 and the
// caller falls back to substring matching.
func (s *Store) scoredRows(ctx context.Context, query string) ([]scoredRow, error) {
	var queryVec []float32
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			s.log.Debug("query embedding failed, falling back to substring search", "error", err)
		} else {
			queryVec = vec
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+selectRecordColumns+` FROM memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []scoredRow
	for rows.Next() {
		rec, rawEmbedding, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		similarity := -1.0
		if queryVec != nil {
			if vec := unmarshalEmbedding(rawEmbedding); vec != nil {
				similarity = float64(vector.CosineSimilarity(queryVec, vec))
			}
		}
		if similarity < 0 && strings.Contains(strings.ToLower(rec.Task), strings.ToLower(query)) {
			// Substring fallback scores at the threshold so it survives
			// the similarity filter.
			similarity = s.cfg.SimilarityThreshold
		}
		out = append(out, scoredRow{rec: rec, similarity: similarity})
	}
	return out, rows.Err()
}

// SearchSimilarTasks returns up to k records whose tasks are semantically
// similar to query. Read failures degrade to an empty result.
func (s *Store) SearchSimilarTasks(ctx context.Context, query string, k int) []SimilarResult {
	scored, err := s.scoredRows(ctx, query)
	if err != nil {
		s.log.Warn("similar-task search failed", "error", err)
		return nil
	}

	var results []SimilarResult
	for _, row := range scored {
		if row.similarity < s.cfg.SimilarityThreshold {
			continue
		}
		results = append(results, SimilarResult{Record: row.rec, Similarity: row.similarity})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

// SearchSimilarTasksWithQuality ranks by 0.6·similarity + 0.4·(quality/100)
// and filters by a minimum quality. Returned records get their last_used
// stamp refreshed.
func (s *Store) SearchSimilarTasksWithQuality(ctx context.Context, query string, k int, minQuality float64) []SimilarResult {
	scored, err := s.scoredRows(ctx, query)
	if err != nil {
		s.log.Warn("quality-weighted search failed", "error", err)
		return nil
	}

	type combined struct {
		row   scoredRow
		score float64
	}
	var candidates []combined
	for _, row := range scored {
		if row.similarity < s.cfg.SimilarityThreshold || row.rec.QualityScore < minQuality {
			continue
		}
		candidates = append(candidates, combined{
			row:   row,
			score: 0.6*row.similarity + 0.4*(row.rec.QualityScore/100),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]SimilarResult, 0, len(candidates))
	ids := make([]interface{}, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, SimilarResult{Record: c.row.rec, Similarity: c.row.similarity})
		ids = append(ids, c.row.rec.ID)
	}
	if len(ids) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			args := append([]interface{}{time.Now().UTC()}, ids...)
			_, err := tx.ExecContext(ctx,
				`UPDATE memories SET last_used = ? WHERE id IN (`+placeholders+`)`, args...)
			return err
		})
		if err != nil {
			s.log.Debug("failed to refresh last_used", "error", err)
		}
	}
	return results
}

// UpdateSolutionFeedback folds one user rating into the record's counters
// and recomputes the quality score. The new average rating is the
// prior-count-weighted cumulative mean.
func (s *Store) UpdateSolutionFeedback(ctx context.Context, id string, rating float64, isHelpful bool) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("[memory] rating must be in [1, 5], got %v", rating)
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var feedbackCount, helpfulCount int
		var avgRating float64
		err := tx.QueryRowContext(ctx,
			`SELECT feedback_count, avg_rating, is_helpful_count FROM memories WHERE id = ?`, id).
			Scan(&feedbackCount, &avgRating, &helpfulCount)
		if err != nil {
			return err
		}

		newCount := feedbackCount + 1
		newAvg := (avgRating*float64(feedbackCount) + rating) / float64(newCount)
		if isHelpful {
			helpfulCount++
		}
		quality := QualityScore(newAvg, helpfulCount, newCount)

		_, err = tx.ExecContext(ctx, `
			UPDATE memories
			SET feedback_count = ?, avg_rating = ?, is_helpful_count = ?, quality_score = ?
			WHERE id = ?`,
			newCount, newAvg, helpfulCount, quality, id)
		return err
	})
	if err != nil {
		s.log.Warn("failed to update solution feedback", "id", id, "error", err)
		return fmt.Errorf("[memory] update feedback: %w", err)
	}
	return nil
}

// GetRecord loads one record by id.
func (s *Store) GetRecord(ctx context.Context, id string) (*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectRecordColumns+` FROM memories WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("[memory] get record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("[memory] record %q not found", id)
	}
	rec, _, err := scanRecord(rows)
	if err != nil {
		return nil, fmt.Errorf("[memory] get record: %w", err)
	}
	return &rec, nil
}

// Count reports the number of stored memories.
func (s *Store) Count(ctx context.Context) int {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// cleanupIfNeeded evicts the excess rows when the store grows past
// max_memories, dropping lowest quality first, then oldest.
func (s *Store) cleanupIfNeeded(ctx context.Context) {
	if s.cfg.MaxMemories <= 0 {
		return
	}
	count := s.Count(ctx)
	excess := count - s.cfg.MaxMemories
	if excess <= 0 {
		return
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM memories WHERE id IN (
				SELECT id FROM memories
				ORDER BY quality_score ASC, created_at ASC
				LIMIT ?
			)`, excess)
		return err
	})
	if err != nil {
		s.log.Warn("memory eviction failed", "error", err)
		return
	}
	s.log.Debug("evicted low-quality memories", "evicted", excess)
}
