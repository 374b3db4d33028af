package domain

import (
	"fmt"
	"strings"
	"time"
)

// StatusRecord is one immutable ledger entry.
type StatusRecord struct {
	ID             string    `json:"id"`
	TagID          string    `json:"tagId"`
	StatusName     string    `json:"statusName"`
	CreateTime     time.Time `json:"createTime"`
	CreateUser     UserRef   `json:"createUser"`
	Description    string    `json:"description,omitempty"`
	NumberOfUpVote *int      `json:"numberOfUpVote,omitempty"`
	HasUpVote      bool      `json:"hasUpVote"`
}

// Workflow is the deployment-configured status enumeration. Chain is the
// ordered subset that vote-driven promotion walks through.
type Workflow struct {
	Statuses []string
	Chain    []string
	Initial  string
	Archived string
}

// DefaultWorkflow is used when configuration does not override it.
func DefaultWorkflow() Workflow {
	return Workflow{
		Statuses: []string{"pending", "verified", "archived", "rejected"},
		Chain:    []string{"pending", "verified"},
		Initial:  "pending",
		Archived: "archived",
	}
}

// NewWorkflow builds and validates a workflow.
func NewWorkflow(statuses, chain []string, initial, archived string) (Workflow, error) {
	w := Workflow{
		Statuses: normalizeNames(statuses),
		Chain:    normalizeNames(chain),
		Initial:  strings.TrimSpace(initial),
		Archived: strings.TrimSpace(archived),
	}
	if len(w.Statuses) == 0 {
		return Workflow{}, fmt.Errorf("%w: status enumeration is empty", ErrValidation)
	}
	if !w.Valid(w.Initial) {
		return Workflow{}, fmt.Errorf("%w: initial status %q not in enumeration", ErrValidation, w.Initial)
	}
	if !w.Valid(w.Archived) {
		return Workflow{}, fmt.Errorf("%w: archived status %q not in enumeration", ErrValidation, w.Archived)
	}
	for _, name := range w.Chain {
		if !w.Valid(name) {
			return Workflow{}, fmt.Errorf("%w: chain status %q not in enumeration", ErrValidation, name)
		}
	}
	return w, nil
}

// Valid reports whether name belongs to the enumeration.
func (w Workflow) Valid(name string) bool {
	for _, s := range w.Statuses {
		if s == name {
			return true
		}
	}
	return false
}

// Next returns the status that follows name in the promotion chain.
func (w Workflow) Next(name string) (string, bool) {
	for i, s := range w.Chain {
		if s == name && i+1 < len(w.Chain) {
			return w.Chain[i+1], true
		}
	}
	return "", false
}

// Prev returns the status that precedes name in the promotion chain.
func (w Workflow) Prev(name string) (string, bool) {
	for i, s := range w.Chain {
		if s == name && i > 0 {
			return w.Chain[i-1], true
		}
	}
	return "", false
}

func normalizeNames(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, raw := range in {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Timestamp normalizes t to the precision Postgres stores.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// After returns now, or the first instant strictly after latest when now does
// not move past it.
func After(latest, now time.Time) time.Time {
	now = Timestamp(now)
	if !now.After(latest) {
		return Timestamp(latest).Add(time.Microsecond)
	}
	return now
}
