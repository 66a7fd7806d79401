package tracking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/adaptd/internal/logging"
	"github.com/fyrsmithlabs/adaptd/internal/storage"
)

// Tracker persists usage, feedback, and A/B tests.
type Tracker struct {
	db     *storage.DB
	logger *logging.Logger
}

// NewTracker creates a tracker on the shared database and runs its migration.
func NewTracker(db *storage.DB, logger *logging.Logger) (*Tracker, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	t := &Tracker{db: db, logger: logger.Named("tracking")}
	if err := t.migrate(); err != nil {
		return nil, fmt.Errorf("migrate tracking: %w", err)
	}
	return t, nil
}

func (t *Tracker) migrate() error {
	_, err := t.db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_records (
			usage_id       TEXT PRIMARY KEY,
			prompt_id      TEXT NOT NULL,
			prompt_version INTEGER NOT NULL,
			model          TEXT NOT NULL DEFAULT '',
			input_tokens   INTEGER NOT NULL DEFAULT 0,
			output_tokens  INTEGER NOT NULL DEFAULT 0,
			latency_ms     INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_usage_prompt ON usage_records (prompt_id, prompt_version);

		CREATE TABLE IF NOT EXISTS feedback (
			feedback_id   TEXT PRIMARY KEY,
			usage_id      TEXT NOT NULL REFERENCES usage_records (usage_id),
			rating        INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
			feedback_text TEXT NOT NULL DEFAULT '',
			categories    TEXT NOT NULL DEFAULT '[]',
			created_at    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_feedback_usage ON feedback (usage_id);

		CREATE TABLE IF NOT EXISTS ab_tests (
			test_id     TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			prompt_id   TEXT NOT NULL,
			version_a   INTEGER NOT NULL,
			version_b   INTEGER NOT NULL,
			metric      TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			end_date    TEXT,
			created_at  TEXT NOT NULL
		);
	`)
	return err
}

// TrackUsage persists a usage record and returns its assigned usage ID.
func (t *Tracker) TrackUsage(ctx context.Context, rec *UsageRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("usage record is required")
	}
	if err := rec.Validate(); err != nil {
		return "", err
	}

	usageID := rec.UsageID
	if usageID == "" {
		usageID = uuid.New().String()
	}
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO usage_records (usage_id, prompt_id, prompt_version, model, input_tokens, output_tokens, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, usageID, rec.PromptID, rec.PromptVersion, rec.Model, rec.InputTokens, rec.OutputTokens,
		rec.LatencyMs, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("track usage: %w", err)
	}
	return usageID, nil
}

// SubmitFeedback records a rating for a usage record. The rating must be in
// [1,5] and the usage record must exist.
func (t *Tracker) SubmitFeedback(ctx context.Context, fb *Feedback) error {
	if fb == nil {
		return fmt.Errorf("feedback is required")
	}
	if fb.Rating < 1 || fb.Rating > 5 {
		return fmt.Errorf("%w: got %d", ErrInvalidRating, fb.Rating)
	}

	var exists int
	err := t.db.QueryRowContext(ctx, `SELECT 1 FROM usage_records WHERE usage_id = ?`, fb.UsageID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %q", ErrUsageNotFound, fb.UsageID)
	}
	if err != nil {
		return fmt.Errorf("lookup usage: %w", err)
	}

	categories, err := json.Marshal(fb.Categories)
	if err != nil {
		return fmt.Errorf("encode categories: %w", err)
	}
	if fb.Categories == nil {
		categories = []byte("[]")
	}

	_, err = t.db.ExecContext(ctx, `
		INSERT INTO feedback (feedback_id, usage_id, rating, feedback_text, categories, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), fb.UsageID, fb.Rating, fb.FeedbackText, string(categories),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("submit feedback: %w", err)
	}
	return nil
}

// GetPerformance aggregates usage and feedback for a prompt. When version is
// nil, all versions are aggregated together.
func (t *Tracker) GetPerformance(ctx context.Context, promptID string, version *int) (*Performance, error) {
	if promptID == "" {
		return nil, ErrEmptyPromptID
	}

	query := `
		SELECT COUNT(u.usage_id),
		       COALESCE(AVG(u.latency_ms), 0),
		       COALESCE(AVG(u.input_tokens + u.output_tokens), 0)
		FROM usage_records u
		WHERE u.prompt_id = ?`
	args := []any{promptID}
	if version != nil {
		query += ` AND u.prompt_version = ?`
		args = append(args, *version)
	}

	perf := &Performance{PromptID: promptID}
	if version != nil {
		perf.Version = *version
	}
	err := t.db.QueryRowContext(ctx, query, args...).Scan(&perf.UsageCount, &perf.AvgLatency, &perf.AvgTokens)
	if err != nil {
		return nil, fmt.Errorf("aggregate usage: %w", err)
	}

	ratingQuery := `
		SELECT COUNT(f.rating), COALESCE(AVG(f.rating), 0)
		FROM feedback f
		JOIN usage_records u ON u.usage_id = f.usage_id
		WHERE u.prompt_id = ?`
	if version != nil {
		ratingQuery += ` AND u.prompt_version = ?`
	}
	err = t.db.QueryRowContext(ctx, ratingQuery, args...).Scan(&perf.Ratings, &perf.AvgRating)
	if err != nil {
		return nil, fmt.Errorf("aggregate ratings: %w", err)
	}
	return perf, nil
}

// GeneratePerformanceReport returns per-version performance for a prompt.
func (t *Tracker) GeneratePerformanceReport(ctx context.Context, promptID string) (*Report, error) {
	if promptID == "" {
		return nil, ErrEmptyPromptID
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT DISTINCT prompt_version FROM usage_records WHERE prompt_id = ? ORDER BY prompt_version
	`, promptID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}

	report := &Report{PromptID: promptID, GeneratedAt: time.Now().UTC()}
	for _, v := range versions {
		v := v
		perf, err := t.GetPerformance(ctx, promptID, &v)
		if err != nil {
			return nil, err
		}
		report.Versions = append(report.Versions, *perf)
	}
	return report, nil
}

// CreateABTest registers an A/B test and returns its test ID.
func (t *Tracker) CreateABTest(ctx context.Context, spec *ABTestSpec) (string, error) {
	if spec == nil {
		return "", fmt.Errorf("test spec is required")
	}
	if err := spec.Validate(); err != nil {
		return "", err
	}

	testID := uuid.New().String()
	var endDate any
	if spec.EndDate != nil {
		endDate = spec.EndDate.UTC().Format(time.RFC3339Nano)
	}
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO ab_tests (test_id, name, prompt_id, version_a, version_b, metric, description, end_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, testID, spec.Name, spec.PromptID, spec.VersionA, spec.VersionB, string(spec.Metric),
		spec.Description, endDate, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("create ab test: %w", err)
	}
	return testID, nil
}

// GetABTestResults aggregates both variants of a test by its configured
// metric and derives the leading variant.
func (t *Tracker) GetABTestResults(ctx context.Context, testID string) (*ABTestResults, error) {
	var (
		name, promptID, metric string
		versionA, versionB     int
	)
	err := t.db.QueryRowContext(ctx, `
		SELECT name, prompt_id, version_a, version_b, metric FROM ab_tests WHERE test_id = ?
	`, testID).Scan(&name, &promptID, &versionA, &versionB, &metric)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrTestNotFound, testID)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup ab test: %w", err)
	}

	results := &ABTestResults{
		TestID:   testID,
		Name:     name,
		PromptID: promptID,
		Metric:   Metric(metric),
	}
	if results.VariantA, err = t.variantStats(ctx, promptID, versionA, results.Metric); err != nil {
		return nil, err
	}
	if results.VariantB, err = t.variantStats(ctx, promptID, versionB, results.Metric); err != nil {
		return nil, err
	}
	results.LeadingVariant = leadingVariant(results.Metric, results.VariantA, results.VariantB)
	return results, nil
}

// variantStats computes the mean and sample size of a prompt version under
// the given metric.
func (t *Tracker) variantStats(ctx context.Context, promptID string, version int, metric Metric) (VariantStats, error) {
	stats := VariantStats{Version: version}

	var query string
	switch metric {
	case MetricRating:
		query = `
			SELECT COUNT(f.rating), COALESCE(AVG(f.rating), 0)
			FROM feedback f
			JOIN usage_records u ON u.usage_id = f.usage_id
			WHERE u.prompt_id = ? AND u.prompt_version = ?`
	case MetricLatency:
		query = `
			SELECT COUNT(u.usage_id), COALESCE(AVG(u.latency_ms), 0)
			FROM usage_records u
			WHERE u.prompt_id = ? AND u.prompt_version = ?`
	case MetricTokens:
		query = `
			SELECT COUNT(u.usage_id), COALESCE(AVG(u.input_tokens + u.output_tokens), 0)
			FROM usage_records u
			WHERE u.prompt_id = ? AND u.prompt_version = ?`
	default:
		return stats, fmt.Errorf("%w: %q", ErrInvalidMetric, metric)
	}

	err := t.db.QueryRowContext(ctx, query, promptID, version).Scan(&stats.SampleSize, &stats.Mean)
	if err != nil {
		return stats, fmt.Errorf("variant stats: %w", err)
	}
	return stats, nil
}

// leadingVariant picks the strictly better variant by the metric's direction,
// or "" when either side has no samples or the means tie.
func leadingVariant(metric Metric, a, b VariantStats) string {
	if a.SampleSize == 0 || b.SampleSize == 0 || a.Mean == b.Mean {
		return ""
	}
	higherWins := metric == MetricRating
	if (a.Mean > b.Mean) == higherWins {
		return "A"
	}
	return "B"
}
