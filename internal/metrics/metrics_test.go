package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPhase(t *testing.T) {
	r := NewRecorder()

	r.RecordPhase("setSecret", "multi-user", nil, 2*time.Second)
	r.RecordPhase("setSecret", "multi-user", errors.New("boom"), time.Second)
	r.RecordPhase("setSecret", "multi-user", nil, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.phaseTotal.WithLabelValues("setSecret", "multi-user", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.phaseTotal.WithLabelValues("setSecret", "multi-user", OutcomeFailure)))
	assert.Equal(t, 1, testutil.CollectAndCount(r.phaseDuration))
}

func TestRecordAttempts(t *testing.T) {
	r := NewRecorder()

	r.RecordProvisionAttempt(OutcomeRetry)
	r.RecordProvisionAttempt(OutcomeRetry)
	r.RecordProvisionAttempt(OutcomeSuccess)
	r.RecordTestAttempt(OutcomeFailure)
	r.RecordBootstrap()
	r.SetMasterRotationInProgress(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.provisionAttempt.WithLabelValues(OutcomeRetry)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.provisionAttempt.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.testAttempt.WithLabelValues(OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.bootstrapTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.masterRotation))

	r.SetMasterRotationInProgress(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.masterRotation))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder

	assert.NotPanics(t, func() {
		r.RecordPhase("createSecret", "single-user", nil, time.Second)
		r.RecordProvisionAttempt(OutcomeSuccess)
		r.RecordTestAttempt(OutcomeSuccess)
		r.RecordBootstrap()
		r.SetMasterRotationInProgress(true)
	})
	assert.Nil(t, r.Registry())
	assert.NoError(t, r.Push(context.Background(), "http://unused", "dbrotate"))
}

func TestPush(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		body, _ := io.ReadAll(req.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRecorder()
	r.RecordBootstrap()

	require.NoError(t, r.Push(context.Background(), srv.URL, "dbrotate"))
	assert.Equal(t, "/metrics/job/dbrotate", gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestPushEmptyURLIsNoop(t *testing.T) {
	assert.NoError(t, NewRecorder().Push(context.Background(), "", "dbrotate"))
}

func TestPushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewRecorder().Push(context.Background(), srv.URL, "dbrotate")
	assert.Error(t, err)
}
