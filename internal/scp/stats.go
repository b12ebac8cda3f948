package scp

import (
	"sync/atomic"
	"time"

	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/observability"
)

// Association outcomes reported to the recorder.
const (
	OutcomeAccepted     = "accepted"
	OutcomeRejected     = "rejected"
	OutcomeThrottled    = "throttled"
	OutcomeReleased     = "released"
	OutcomeAborted      = "aborted"
	OutcomeNetworkError = "network_error"
)

// Statistics is a point-in-time copy of a recorder's counters.
type Statistics struct {
	Accepted       int64 `json:"accepted"`
	Rejected       int64 `json:"rejected"`
	Released       int64 `json:"released"`
	Aborted        int64 `json:"aborted"`
	Requests       int64 `json:"requests"`
	FailedRequests int64 `json:"failed_requests"`
	Objects        int64 `json:"objects"`
	Bytes          int64 `json:"bytes"`
}

// StatisticsRecorder aggregates counters for one listening AE. It is shared
// by every association of that listener and mirrors each update into the
// Prometheus collectors.
type StatisticsRecorder struct {
	ae string

	accepted       atomic.Int64
	rejected       atomic.Int64
	released       atomic.Int64
	aborted        atomic.Int64
	requests       atomic.Int64
	failedRequests atomic.Int64
	objects        atomic.Int64
	bytes          atomic.Int64
}

func NewStatisticsRecorder(ae string) *StatisticsRecorder {
	return &StatisticsRecorder{ae: ae}
}

func (s *StatisticsRecorder) Accepted() {
	s.accepted.Add(1)
	observability.RecordAssociation(s.ae, OutcomeAccepted)
}

// Rejected counts a refused association; outcome is OutcomeRejected or
// OutcomeThrottled.
func (s *StatisticsRecorder) Rejected(outcome string) {
	s.rejected.Add(1)
	observability.RecordAssociation(s.ae, outcome)
}

func (s *StatisticsRecorder) Request(command dicom.CommandField, ok bool) {
	s.requests.Add(1)
	if !ok {
		s.failedRequests.Add(1)
	}
	observability.RecordDimseRequest(s.ae, command.String(), ok)
}

func (s *StatisticsRecorder) Object(bytes int) {
	s.objects.Add(1)
	s.bytes.Add(int64(bytes))
	observability.RecordObjectReceived(s.ae, bytes)
}

// StreamBytes adds payload bytes of a streamed object counted by Object.
func (s *StatisticsRecorder) StreamBytes(n int) {
	s.bytes.Add(int64(n))
	observability.RecordBytesReceived(s.ae, n)
}

// Ended records how an accepted association finished.
func (s *StatisticsRecorder) Ended(outcome string, d time.Duration) {
	switch outcome {
	case OutcomeReleased:
		s.released.Add(1)
	default:
		s.aborted.Add(1)
		observability.RecordAssociationAbort(s.ae, outcome)
	}
	observability.RecordAssociationDuration(s.ae, d)
}

func (s *StatisticsRecorder) Snapshot() Statistics {
	return Statistics{
		Accepted:       s.accepted.Load(),
		Rejected:       s.rejected.Load(),
		Released:       s.released.Load(),
		Aborted:        s.aborted.Load(),
		Requests:       s.requests.Load(),
		FailedRequests: s.failedRequests.Load(),
		Objects:        s.objects.Load(),
		Bytes:          s.bytes.Load(),
	}
}

// associationStats counts the traffic of a single association.
type associationStats struct {
	started  time.Time
	requests atomic.Int64
	failures atomic.Int64
	objects  atomic.Int64
	bytes    atomic.Int64
}
