package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SaveFailedTask records an agent failure. Logged and swallowed on error.
func (s *Store) SaveFailedTask(ctx context.Context, ft FailedTask) {
	if ft.CreatedAt.IsZero() {
		ft.CreatedAt = time.Now().UTC()
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO failed_tasks (task, agent, error_kind, error_message, error_context, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			ft.Task, ft.Agent, ft.ErrorKind, ft.ErrorMessage, ft.ErrorContext, ft.CreatedAt)
		return err
	})
	if err != nil {
		s.log.Warn("failed to save failed-task record", "agent", ft.Agent, "error", err)
	}
}

// ErrorAvoidancePrompt returns a warning block built from prior failures on
// semantically similar tasks, or "" when none apply.
func (s *Store) ErrorAvoidancePrompt(ctx context.Context, task, agent string) string {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task, error_kind, error_message FROM failed_tasks
		WHERE agent = ? ORDER BY created_at DESC LIMIT 50`, agent)
	if err != nil {
		s.log.Debug("failed-task lookup failed", "error", err)
		return ""
	}
	defer rows.Close()

	// Fingerprint on shared significant words; embeddings are overkill for
	// a warning block and this path must stay cheap.
	taskWords := significantWords(task)
	var warnings []string
	seen := map[string]struct{}{}
	for rows.Next() {
		var prevTask, kind, message string
		if err := rows.Scan(&prevTask, &kind, &message); err != nil {
			return ""
		}
		if overlap(taskWords, significantWords(prevTask)) < 0.3 {
			continue
		}
		key := kind + ":" + message
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		warnings = append(warnings, fmt.Sprintf("- %s: %s", kind, message))
		if len(warnings) >= 3 {
			break
		}
	}
	if len(warnings) == 0 {
		return ""
	}
	return "IMPORTANT - similar tasks previously failed with these errors. Avoid repeating them:\n" +
		strings.Join(warnings, "\n")
}

func significantWords(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if len(w) >= 4 {
			out[w] = struct{}{}
		}
	}
	return out
}

func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for w := range a {
		if _, ok := b[w]; ok {
			shared++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(shared) / float64(smaller)
}

// SaveUserPreference upserts one (user, key, value). Logged and swallowed.
func (s *Store) SaveUserPreference(ctx context.Context, userID, key, value string) {
	if userID == "" {
		userID = "default"
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_preferences (user_id, key, value) VALUES (?, ?, ?)
			ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value`,
			userID, key, value)
		return err
	})
	if err != nil {
		s.log.Warn("failed to save user preference", "user", userID, "error", err)
	}
}

// PersonalizationPrompt renders the user's stored preferences as a prompt
// block, or "" when none exist.
func (s *Store) PersonalizationPrompt(ctx context.Context, userID string) string {
	if userID == "" {
		userID = "default"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM user_preferences WHERE user_id = ? ORDER BY key`, userID)
	if err != nil {
		s.log.Debug("preference lookup failed", "error", err)
		return ""
	}
	defer rows.Close()

	var prefs []string
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return ""
		}
		prefs = append(prefs, fmt.Sprintf("- %s: %s", key, value))
	}
	if len(prefs) == 0 {
		return ""
	}
	return "User preferences to respect:\n" + strings.Join(prefs, "\n")
}

// RecordModelResult folds one execution into the per-(model, task-type)
// counters. Logged and swallowed.
func (s *Store) RecordModelResult(ctx context.Context, model, taskType string, success bool, quality float64, duration time.Duration) {
	if model == "" || taskType == "" {
		return
	}
	successInc, failureInc := 0, 0
	if success {
		successInc = 1
	} else {
		failureInc = 1
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO model_task_stats (model, task_type, success_count, failure_count, sum_quality, sum_duration_ms, samples)
			VALUES (?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(model, task_type) DO UPDATE SET
				success_count = success_count + excluded.success_count,
				failure_count = failure_count + excluded.failure_count,
				sum_quality = sum_quality + excluded.sum_quality,
				sum_duration_ms = sum_duration_ms + excluded.sum_duration_ms,
				samples = samples + 1`,
			model, taskType, successInc, failureInc, quality, duration.Milliseconds())
		return err
	})
	if err != nil {
		s.log.Warn("failed to record model result", "model", model, "error", err)
	}
}

// BestModelForTaskType returns the strongest model for a task type by
// success rate then average quality, or nil when no model has at least
// three samples.
func (s *Store) BestModelForTaskType(ctx context.Context, taskType string) *ModelStats {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, success_count, failure_count, sum_quality, sum_duration_ms, samples
		FROM model_task_stats WHERE task_type = ? AND samples >= 3`, taskType)
	if err != nil {
		s.log.Debug("model stats lookup failed", "error", err)
		return nil
	}
	defer rows.Close()

	var best *ModelStats
	for rows.Next() {
		var model string
		var successCount, failureCount, samples int
		var sumQuality float64
		var sumDurationMs int64
		if err := rows.Scan(&model, &successCount, &failureCount, &sumQuality, &sumDurationMs, &samples); err != nil {
			return nil
		}
		stat := &ModelStats{
			Model:       model,
			TaskType:    taskType,
			SuccessRate: float64(successCount) / float64(successCount+failureCount),
			AvgQuality:  sumQuality / float64(samples),
			AvgDuration: time.Duration(sumDurationMs/int64(samples)) * time.Millisecond,
			Samples:     samples,
		}
		if best == nil || stat.SuccessRate > best.SuccessRate ||
			(stat.SuccessRate == best.SuccessRate && stat.AvgQuality > best.AvgQuality) {
			best = stat
		}
	}
	return best
}

// RecordErrorPattern bumps the occurrence counter for a recurring issue.
func (s *Store) RecordErrorPattern(ctx context.Context, agent, pattern string) {
	if pattern == "" {
		return
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO error_patterns (agent, pattern, count, last_seen) VALUES (?, ?, 1, ?)
			ON CONFLICT(agent, pattern) DO UPDATE SET
				count = count + 1, last_seen = excluded.last_seen`,
			agent, pattern, time.Now().UTC())
		return err
	})
	if err != nil {
		s.log.Warn("failed to record error pattern", "agent", agent, "error", err)
	}
}

// CommonIssues returns an agent's most frequent error patterns, most common
// first.
func (s *Store) CommonIssues(ctx context.Context, agent string, limit int) []string {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern FROM error_patterns WHERE agent = ?
		ORDER BY count DESC, last_seen DESC LIMIT ?`, agent, limit)
	if err != nil {
		s.log.Debug("error-pattern lookup failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var pattern string
		if err := rows.Scan(&pattern); err != nil {
			return nil
		}
		out = append(out, pattern)
	}
	return out
}

// RecordReflectionOutcome stores one reflection-loop result for trend
// telemetry. Logged and swallowed.
func (s *Store) RecordReflectionOutcome(ctx context.Context, agent string, quality float64, corrected bool, attempts int, duration time.Duration) {
	correctedInt := 0
	if corrected {
		correctedInt = 1
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reflection_outcomes (agent, quality, corrected, attempts, duration_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			agent, quality, correctedInt, attempts, duration.Milliseconds(), time.Now().UTC())
		return err
	})
	if err != nil {
		s.log.Warn("failed to record reflection outcome", "agent", agent, "error", err)
	}
}

// FewShotPrompt renders up to k high-quality similar solutions as few-shot
// examples, or "" when none qualify.
func (s *Store) FewShotPrompt(ctx context.Context, task string, k int, minQuality float64) string {
	if k <= 0 {
		k = 2
	}
	results := s.SearchSimilarTasksWithQuality(ctx, task, k, minQuality)
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Here are previous solutions to similar tasks that earned good feedback:\n")
	for i, r := range results {
		solution := r.Solution
		if len(solution) > 1500 {
			solution = solution[:1500] + "\n... (truncated)"
		}
		fmt.Fprintf(&b, "\nExample %d (quality %.0f/100):\nTask: %s\nSolution:\n%s\n",
			i+1, r.QualityScore, r.Task, solution)
	}
	return b.String()
}
