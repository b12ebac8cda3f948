package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/scp"
	"github.com/danmuck/scpd/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	return rr
}

func completed(calling string, objects int) (*dicom.AssociationParameters, []scp.StorageInstance) {
	assoc := dicom.NewAssociationParameters(calling, "SCPD")
	records := make([]scp.StorageInstance, 0, objects)
	for i := 0; i < objects; i++ {
		records = append(records, scp.StorageInstance{SopInstanceUID: "1.2." + strconv.Itoa(i), Bytes: 10})
	}
	return assoc, records
}

func TestRecentAssociationsRingNewestFirst(t *testing.T) {
	testlog.Start(t)
	r := NewRecentAssociations(3)
	for i := 0; i < 5; i++ {
		r.Record(completed("AE"+strconv.Itoa(i), i))
	}
	require.Equal(t, 3, r.Len())

	got := r.Snapshot(0)
	require.Len(t, got, 3)
	require.Equal(t, "AE4", got[0].CallingAE)
	require.Equal(t, "AE3", got[1].CallingAE)
	require.Equal(t, "AE2", got[2].CallingAE)
	require.Equal(t, 4, got[0].Objects)
	require.Equal(t, 40, got[0].Bytes)

	require.Len(t, r.Snapshot(1), 1)
	require.Empty(t, NewRecentAssociations(0).Snapshot(10))
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)
	ready := false
	s := New(Options{ID: "SCPD", Ready: func() bool { return ready }})

	rr := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "SCPD", body["service"])

	require.Equal(t, http.StatusServiceUnavailable, get(t, s, "/ready").Code)
	ready = true
	require.Equal(t, http.StatusOK, get(t, s, "/ready").Code)
}

func TestAssociationsAndStatistics(t *testing.T) {
	testlog.Start(t)
	recent := NewRecentAssociations(10)
	recent.Record(completed("MODALITY", 2))
	recent.Record(completed("WORKSTATION", 0))
	s := New(Options{
		ID:         "SCPD",
		Recent:     recent,
		Statistics: func() scp.Statistics { return scp.Statistics{Accepted: 2, Objects: 2} },
	})

	rr := get(t, s, "/associations?limit=1")
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Associations []AssociationSummary `json:"associations"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Associations, 1)
	require.Equal(t, "WORKSTATION", list.Associations[0].CallingAE)

	require.Equal(t, http.StatusBadRequest, get(t, s, "/associations?limit=-2").Code)

	rr = get(t, s, "/statistics")
	require.Equal(t, http.StatusOK, rr.Code)
	var stats scp.Statistics
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	require.Equal(t, int64(2), stats.Accepted)
	require.Equal(t, int64(2), stats.Objects)
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)
	s := New(Options{ID: "SCPD"})
	_ = get(t, s, "/health")
	rr := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "http_requests_total")
}
