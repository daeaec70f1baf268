// Package issues keeps the registry of advisory problem reports raised
// by integrations. Issues are surfaced to dashboards until the user
// dismisses them or the producer stops re-reporting them; the registry
// itself is process-local and rebuilt at startup.
package issues

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Severity classifies how urgent an issue is
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	return s == SeverityWarning || s == SeverityCritical
}

// Issue is one advisory problem report
type Issue struct {
	// Domain is the integration that raised the issue
	Domain string `json:"domain"`
	// ID identifies the issue within its domain
	ID       string   `json:"issue_id"`
	Severity Severity `json:"severity"`
	// Fixable is true when the platform can walk the user through a fix
	Fixable bool `json:"is_fixable"`
	// LearnMoreURL optionally points at background material
	LearnMoreURL string `json:"learn_more_url,omitempty"`
	// BreaksInVersion optionally names the release where the reported
	// problem becomes fatal
	BreaksInVersion string `json:"breaks_in_version,omitempty"`
	// TranslationKey selects the localized description
	TranslationKey string    `json:"translation_key,omitempty"`
	CreatedAt      time.Time `json:"created"`
}

// Registry holds the currently active issues
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]Issue
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byKey: make(map[string]Issue),
	}
}

// Report registers an issue, replacing any previous report with the
// same domain and id. The original creation time is kept on re-report.
func (r *Registry) Report(issue Issue) error {
	if issue.Domain == "" {
		return fmt.Errorf("issue domain is required")
	}
	if issue.ID == "" {
		return fmt.Errorf("issue id is required")
	}
	if !issue.Severity.Valid() {
		return fmt.Errorf("issue %s/%s has unknown severity %q", issue.Domain, issue.ID, issue.Severity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := issueKey(issue.Domain, issue.ID)
	if existing, ok := r.byKey[key]; ok {
		issue.CreatedAt = existing.CreatedAt
	} else if issue.CreatedAt.IsZero() {
		issue.CreatedAt = time.Now().UTC()
	}

	r.byKey[key] = issue
	return nil
}

// Get returns the issue with the given domain and id
func (r *Registry) Get(domain, id string) (Issue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	issue, ok := r.byKey[issueKey(domain, id)]
	return issue, ok
}

// List returns all active issues ordered by domain, then id
func (r *Registry) List() []Issue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Issue, 0, len(r.byKey))
	for _, issue := range r.byKey {
		result = append(result, issue)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Domain != result[j].Domain {
			return result[i].Domain < result[j].Domain
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// Delete dismisses an issue, reporting whether it existed
func (r *Registry) Delete(domain, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := issueKey(domain, id)
	if _, ok := r.byKey[key]; !ok {
		return false
	}
	delete(r.byKey, key)
	return true
}

// Len returns the number of active issues
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

func issueKey(domain, id string) string {
	return domain + "/" + id
}
