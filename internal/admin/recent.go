package admin

import (
	"sync"
	"time"

	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/scp"
)

// DefaultRecentAssociations is the ring size used when none is given.
const DefaultRecentAssociations = 100

// AssociationSummary describes one completed association.
type AssociationSummary struct {
	CallingAE  string                `json:"calling_ae"`
	CalledAE   string                `json:"called_ae"`
	RemoteAddr string                `json:"remote_addr,omitempty"`
	Started    time.Time             `json:"started"`
	Ended      time.Time             `json:"ended"`
	Objects    int                   `json:"objects"`
	Bytes      int                   `json:"bytes"`
	Records    []scp.StorageInstance `json:"records,omitempty"`
}

// RecentAssociations keeps the last N completed associations.
type RecentAssociations struct {
	mu    sync.Mutex
	ring  []AssociationSummary
	next  int
	count int
}

func NewRecentAssociations(size int) *RecentAssociations {
	if size <= 0 {
		size = DefaultRecentAssociations
	}
	return &RecentAssociations{ring: make([]AssociationSummary, size)}
}

// Record adds a completed association, evicting the oldest when full.
func (r *RecentAssociations) Record(assoc *dicom.AssociationParameters, records []scp.StorageInstance) {
	summary := AssociationSummary{
		CallingAE:  assoc.CallingAE,
		CalledAE:   assoc.CalledAE,
		RemoteAddr: assoc.RemoteAddr,
		Started:    assoc.Timestamp,
		Ended:      time.Now(),
		Objects:    len(records),
		Records:    records,
	}
	for _, rec := range records {
		summary.Bytes += rec.Bytes
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring[r.next] = summary
	r.next = (r.next + 1) % len(r.ring)
	if r.count < len(r.ring) {
		r.count++
	}
}

// Snapshot returns up to limit summaries, newest first. limit <= 0 returns
// everything held.
func (r *RecentAssociations) Snapshot(limit int) []AssociationSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]AssociationSummary, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.ring)) % len(r.ring)
		out = append(out, r.ring[idx])
	}
	return out
}

func (r *RecentAssociations) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
