// Package metrics is a small in-memory counter registry exposed at /metrics.
package metrics

import "sync"

const (
	TagsCreated            = "tags_created_total"
	TagsUpdated            = "tags_updated_total"
	StatusRecordsAppended  = "status_records_appended_total"
	VotesApplied           = "votes_applied_total"
	VotesNoop              = "votes_noop_total"
	Promotions             = "status_promotions_total"
	Demotions              = "status_demotions_total"
	NotificationsPublished = "notifications_published_total"
	NotificationsDropped   = "notifications_dropped_total"
	NotificationFailures   = "notification_delivery_failures_total"
	ViewIncrements         = "view_increments_total"
	ViewIncrementFailures  = "view_increment_failures_total"
	EmptyLedgerDetected    = "empty_ledger_detected_total"
	UploadURLsIssued       = "upload_urls_issued_total"
	ThresholdChanges       = "archived_threshold_changes_total"
)

type Metrics struct {
	mu       sync.RWMutex
	counters map[string]uint64
}

func New() *Metrics {
	return &Metrics{counters: make(map[string]uint64)}
}

// Inc is safe on a nil receiver so collaborators can run without metrics.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
}

func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make(map[string]uint64, len(m.counters))
	for k, v := range m.counters {
		cp[k] = v
	}
	return cp
}
