package tracking

import (
	"errors"
	"fmt"
	"time"
)

// Errors for tracking operations.
var (
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	ErrUsageNotFound = errors.New("usage record not found")
	ErrTestNotFound  = errors.New("ab test not found")
	ErrInvalidMetric = errors.New("invalid metric")
	ErrEmptyPromptID = errors.New("prompt ID cannot be empty")
	ErrEmptyTestName = errors.New("test name cannot be empty")
)

// Metric selects what an A/B test compares.
type Metric string

const (
	// MetricRating compares mean feedback rating; higher is better.
	MetricRating Metric = "rating"

	// MetricLatency compares mean latency; lower is better.
	MetricLatency Metric = "latency"

	// MetricTokens compares mean total token usage; lower is better.
	MetricTokens Metric = "tokens"
)

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	switch m {
	case MetricRating, MetricLatency, MetricTokens:
		return true
	}
	return false
}

// UsageRecord captures one prompt invocation.
type UsageRecord struct {
	UsageID       string    `json:"usage_id"`
	PromptID      string    `json:"prompt_id"`
	PromptVersion int       `json:"prompt_version"`
	Model         string    `json:"model"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	LatencyMs     int       `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate checks required usage fields.
func (u *UsageRecord) Validate() error {
	if u.PromptID == "" {
		return ErrEmptyPromptID
	}
	if u.PromptVersion <= 0 {
		return fmt.Errorf("prompt version must be positive, got %d", u.PromptVersion)
	}
	return nil
}

// Feedback attaches a rating to a usage record.
type Feedback struct {
	UsageID      string   `json:"usage_id"`
	Rating       int      `json:"rating"`
	FeedbackText string   `json:"feedback_text,omitempty"`
	Categories   []string `json:"categories,omitempty"`
}

// Performance aggregates signals for one prompt version.
type Performance struct {
	PromptID   string  `json:"prompt_id"`
	Version    int     `json:"version"`
	UsageCount int     `json:"usage_count"`
	AvgLatency float64 `json:"avg_latency_ms"`
	AvgRating  float64 `json:"avg_rating"`
	AvgTokens  float64 `json:"avg_tokens"`
	Ratings    int     `json:"ratings"`
}

// Report is the full per-version performance breakdown for a prompt.
type Report struct {
	PromptID    string        `json:"prompt_id"`
	Versions    []Performance `json:"versions"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// ABTestSpec creates an A/B test between two prompt versions.
type ABTestSpec struct {
	Name        string     `json:"name"`
	PromptID    string     `json:"prompt_id"`
	VersionA    int        `json:"version_a"`
	VersionB    int        `json:"version_b"`
	Metric      Metric     `json:"metric"`
	Description string     `json:"description,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
}

// Validate checks the test definition.
func (s *ABTestSpec) Validate() error {
	if s.Name == "" {
		return ErrEmptyTestName
	}
	if s.PromptID == "" {
		return ErrEmptyPromptID
	}
	if !s.Metric.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMetric, s.Metric)
	}
	if s.VersionA <= 0 || s.VersionB <= 0 {
		return fmt.Errorf("versions must be positive")
	}
	if s.VersionA == s.VersionB {
		return fmt.Errorf("versions must differ")
	}
	return nil
}

// VariantStats is one side of an A/B test result.
type VariantStats struct {
	Version    int     `json:"version"`
	Mean       float64 `json:"mean"`
	SampleSize int     `json:"sample_size"`
}

// ABTestResults is the aggregate outcome of an A/B test.
type ABTestResults struct {
	TestID   string       `json:"test_id"`
	Name     string       `json:"name"`
	PromptID string       `json:"prompt_id"`
	Metric   Metric       `json:"metric"`
	VariantA VariantStats `json:"variant_a"`
	VariantB VariantStats `json:"variant_b"`

	// LeadingVariant is "A" or "B" when one variant's mean strictly beats
	// the other's on the configured metric, "" on a tie or missing data.
	LeadingVariant string `json:"leading_variant,omitempty"`
}
