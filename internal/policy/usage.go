package policy

import (
	"sync"
	"time"
)

// KeyUsage holds the observed traffic for one throttle key.
type KeyUsage struct {
	RuleID         string    `json:"rule_id"`
	Key            string    `json:"key"`
	Total          int64     `json:"total"`
	Allowed        int64     `json:"allowed"`
	Denied         int64     `json:"denied"`
	FirstRequestAt time.Time `json:"first_request_at"`
	LastRequestAt  time.Time `json:"last_request_at"`
}

// UsageTracker aggregates per-key decision counts for the admin usage
// endpoint. It is an in-process view only; counts are not shared across
// instances.
type UsageTracker struct {
	mu    sync.Mutex
	usage map[string]*KeyUsage
}

func NewUsageTracker() *UsageTracker {
	return &UsageTracker{usage: make(map[string]*KeyUsage)}
}

// Record registers one decision for ruleID/key.
func (t *UsageTracker) Record(ruleID, key string, allowed bool, at time.Time) {
	mapKey := ruleID + "\x00" + key

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.usage[mapKey]
	if !ok {
		entry = &KeyUsage{RuleID: ruleID, Key: key, FirstRequestAt: at}
		t.usage[mapKey] = entry
	}
	entry.Total++
	if allowed {
		entry.Allowed++
	} else {
		entry.Denied++
	}
	entry.LastRequestAt = at
}

// Snapshot returns a copy of the current usage table.
func (t *UsageTracker) Snapshot() []KeyUsage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]KeyUsage, 0, len(t.usage))
	for _, entry := range t.usage {
		out = append(out, *entry)
	}
	return out
}

// Forget drops the tracked entry for ruleID/key, if any. Used alongside
// administrative key resets.
func (t *UsageTracker) Forget(ruleID, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.usage, ruleID+"\x00"+key)
}
