package experiment

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/fyrsmithlabs/adaptd/internal/logging"
	"github.com/fyrsmithlabs/adaptd/internal/storage"
)

// Errors for assignment operations.
var (
	ErrEmptyUserID       = errors.New("user ID cannot be empty")
	ErrEmptyExperimentID = errors.New("experiment ID cannot be empty")
)

// Variants is the fixed variant set users are bucketed into.
var Variants = []string{"control", "variant_a", "variant_b"}

// Assignment is a recorded (user, experiment) exposure.
type Assignment struct {
	ExperimentID string    `json:"experiment_id"`
	UserID       string    `json:"user_id"`
	Variant      string    `json:"variant"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// Variant deterministically maps a (userID, experimentID) pair into the
// variant set using FNV-1a. Stable across processes and restarts.
func Variant(userID, experimentID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte{':'})
	h.Write([]byte(experimentID))
	return Variants[h.Sum32()%uint32(len(Variants))]
}

// Recorder assigns variants and persists exposures.
type Recorder struct {
	db     *storage.DB
	logger *logging.Logger
}

// NewRecorder creates a recorder on the shared database and runs its
// migration.
func NewRecorder(db *storage.DB, logger *logging.Logger) (*Recorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	r := &Recorder{db: db, logger: logger.Named("experiment")}
	if err := r.migrate(); err != nil {
		return nil, fmt.Errorf("migrate exposures: %w", err)
	}
	return r, nil
}

func (r *Recorder) migrate() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS exposures (
			experiment_id TEXT NOT NULL,
			user_id       TEXT NOT NULL,
			variant       TEXT NOT NULL,
			assigned_at   TEXT NOT NULL,
			PRIMARY KEY (experiment_id, user_id)
		)
	`)
	return err
}

// Assign returns the deterministic variant for the pair and records the
// exposure exactly once. Repeat calls return the originally recorded
// assignment.
func (r *Recorder) Assign(ctx context.Context, userID, experimentID string) (*Assignment, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	if experimentID == "" {
		return nil, ErrEmptyExperimentID
	}

	variant := Variant(userID, experimentID)
	now := time.Now().UTC()

	// INSERT OR IGNORE makes repeat assignment a no-op on the exposure row.
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO exposures (experiment_id, user_id, variant, assigned_at)
		VALUES (?, ?, ?, ?)
	`, experimentID, userID, variant, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("record exposure: %w", err)
	}

	var assignedAt string
	err = r.db.QueryRowContext(ctx, `
		SELECT assigned_at FROM exposures WHERE experiment_id = ? AND user_id = ?
	`, experimentID, userID).Scan(&assignedAt)
	if err != nil {
		return nil, fmt.Errorf("read exposure: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, assignedAt)
	if err != nil {
		return nil, fmt.Errorf("parse assigned_at: %w", err)
	}

	return &Assignment{
		ExperimentID: experimentID,
		UserID:       userID,
		Variant:      variant,
		AssignedAt:   at,
	}, nil
}

// ExposureCount returns the number of recorded exposures for an experiment.
func (r *Recorder) ExposureCount(ctx context.Context, experimentID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM exposures WHERE experiment_id = ?
	`, experimentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count exposures: %w", err)
	}
	return n, nil
}
