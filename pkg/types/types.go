package types

import (
	"fmt"
	"strings"
	"time"
)

// Metadata describes a long-term statistic series
type Metadata struct {
	// Source is the integration that owns the series
	Source string `json:"source"`
	// Name is the human-readable display name
	Name string `json:"name"`
	// StatisticID uniquely identifies the series, format "source:object_id"
	StatisticID string `json:"statistic_id"`
	// Unit is the unit of measurement of the recorded values
	Unit string `json:"unit_of_measurement"`
	// HasMean is true when the series records mean/min/max columns
	HasMean bool `json:"has_mean"`
	// HasSum is true when the series records a cumulative sum column
	HasSum bool `json:"has_sum"`
}

// Validate checks the metadata is well-formed
func (m *Metadata) Validate() error {
	if m.Source == "" {
		return fmt.Errorf("statistic source is required")
	}
	if m.StatisticID == "" {
		return fmt.Errorf("statistic id is required")
	}
	source, _, ok := strings.Cut(m.StatisticID, ":")
	if !ok {
		return fmt.Errorf("statistic id %q must have the form source:object_id", m.StatisticID)
	}
	if source != m.Source {
		return fmt.Errorf("statistic id %q does not belong to source %q", m.StatisticID, m.Source)
	}
	if !m.HasMean && !m.HasSum {
		return fmt.Errorf("statistic %q records neither mean nor sum columns", m.StatisticID)
	}
	return nil
}

// StatisticID builds a series id from a source and an object id
func StatisticID(source, objectID string) string {
	return source + ":" + objectID
}

// Point is a single hourly statistics row. Start marks the beginning of
// the hour the row covers. Column pointers are nil when the series does
// not record that column.
type Point struct {
	Start time.Time `json:"start"`
	Mean  *float64  `json:"mean,omitempty"`
	Min   *float64  `json:"min,omitempty"`
	Max   *float64  `json:"max,omitempty"`
	Sum   *float64  `json:"sum,omitempty"`
}

// Series is a statistic series with its recorded rows
type Series struct {
	Metadata Metadata `json:"metadata"`
	Points   []Point  `json:"points"`
}

// Float64 returns a pointer to v, for filling optional columns
func Float64(v float64) *float64 {
	return &v
}

// Float64Value dereferences p, returning 0 when p is nil
func Float64Value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
