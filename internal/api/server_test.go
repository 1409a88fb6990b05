package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/myo.mouse/internal/db"
	"github.com/banshee-data/myo.mouse/internal/emg"
	"github.com/banshee-data/myo.mouse/internal/emg/l1samples"
	"github.com/banshee-data/myo.mouse/internal/emg/l2windows"
	"github.com/banshee-data/myo.mouse/internal/emg/l3features"
	"github.com/banshee-data/myo.mouse/internal/emg/l4classify"
	"github.com/banshee-data/myo.mouse/internal/emg/l5motion"
	"github.com/banshee-data/myo.mouse/internal/emg/pipeline"
	"github.com/banshee-data/myo.mouse/internal/httputil"
	"github.com/banshee-data/myo.mouse/internal/testutil"
	"github.com/banshee-data/myo.mouse/internal/timeutil"
)

const channels = 4

func testConfig() pipeline.Config {
	return pipeline.Config{
		WindowSize:      40,
		WindowIncrement: 20,
		FeatureSet:      "AMP",
		FeatureParams:   l3features.DefaultParams(),
		NeutralClass:    "2",
		Directions:      map[string][2]float64{"0": {0, 1}, "1": {0, -1}, "2": {0, 0}},
		BaseSpeed:       50,
		MaxSpeed:        200,
		ActuationPeriod: 10 * time.Millisecond,
		StallGrace:      time.Second,
	}
}

func trainSlot(t *testing.T) *l4classify.Slot {
	t.Helper()
	ext, err := l3features.NewExtractor("AMP", l3features.DefaultParams())
	require.NoError(t, err)
	rng := testutil.Seeded(3)
	var examples []l4classify.Example
	for c := 0; c < 3; c++ {
		label := strconv.Itoa(c)
		windows, err := l2windows.Segment(testutil.Gesture(rng, c, channels, 200, 1), 40, 20, label)
		require.NoError(t, err)
		for _, fv := range ext.ExtractAll(windows) {
			examples = append(examples, l4classify.Example{Features: fv, Label: label})
		}
	}
	m, err := l4classify.Train(examples, l4classify.DefaultTrainOptions())
	require.NoError(t, err)
	return l4classify.NewSlot(m)
}

type harness struct {
	srv  *Server
	mgr  *pipeline.Manager
	slot *l4classify.Slot
	db  *db.DB
	h   http.Handler
}

func newHarness(t *testing.T, withDB bool) *harness {
	t.Helper()
	var database *db.DB
	var hook pipeline.SessionHook
	var sinks []emg.DecisionSink
	if withDB {
		var err error
		database, err = db.NewDB(filepath.Join(t.TempDir(), "api.db"))
		require.NoError(t, err)
		t.Cleanup(func() { database.Close() })
		hook = func(p *pipeline.Pipeline) error {
			return database.StartSession(db.Session{ID: p.SessionID(), StartedAt: time.Now(), FeatureSet: "AMP"})
		}
		sinks = append(sinks, database)
	}
	slot := trainSlot(t)
	mgr := pipeline.NewManager(slot, testConfig(), pipeline.Deps{
		Buffer:   l1samples.NewBuffer(256, channels),
		Actuator: &l5motion.Recorder{},
		Clock:    timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Sinks:    sinks,
	}, hook)
	t.Cleanup(mgr.Shutdown)

	srv := NewServer(mgr, database)
	return &harness{srv: srv, mgr: mgr, slot: slot, db: database, h: LoggingMiddleware(srv.ServeMux())}
}

func (h *harness) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(http.MethodGet, "/api/state")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var st StateResponse
	testutil.DecodeJSON(t, rec, &st)
	assert.Equal(t, emg.StateIdle, st.State)
	assert.Empty(t, st.SessionID)

	rec = h.do(http.MethodPost, "/api/start")
	testutil.AssertStatusCode(t, rec.Code, http.StatusCreated)
	var status pipeline.Status
	testutil.DecodeJSON(t, rec, &status)
	assert.Equal(t, emg.StateRunning, status.State)
	assert.NotEmpty(t, status.SessionID)

	rec = h.do(http.MethodPost, "/api/start")
	testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)

	rec = h.do(http.MethodGet, "/api/state")
	testutil.DecodeJSON(t, rec, &st)
	assert.Equal(t, emg.StateRunning, st.State)
	assert.Equal(t, status.SessionID, st.SessionID)

	rec = h.do(http.MethodGet, "/api/status")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	rec = h.do(http.MethodPost, "/api/stop")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	testutil.DecodeJSON(t, rec, &status)
	assert.Equal(t, emg.StateTerminated, status.State)
	assert.Equal(t, emg.ZeroCommand, status.Command)

	rec = h.do(http.MethodPost, "/api/stop")
	testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)
}

func TestMethodChecks(t *testing.T) {
	h := newHarness(t, false)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/start"},
		{http.MethodGet, "/api/stop"},
		{http.MethodPost, "/api/state"},
		{http.MethodPost, "/api/status"},
		{http.MethodPost, "/api/model"},
		{http.MethodPost, "/api/model/report"},
		{http.MethodGet, "/api/model/retrain"},
		{http.MethodPost, "/api/sessions"},
		{http.MethodDelete, "/api/sessions/x"},
	} {
		t.Run(tc.method+tc.path, func(t *testing.T) {
			testutil.AssertStatusCode(t, h.do(tc.method, tc.path).Code, http.StatusMethodNotAllowed)
		})
	}
}

func TestModelRoutes(t *testing.T) {
	h := newHarness(t, false)

	testutil.AssertStatusCode(t, h.do(http.MethodGet, "/api/model").Code, http.StatusNotFound)
	testutil.AssertStatusCode(t, h.do(http.MethodGet, "/api/model/report").Code, http.StatusNotFound)

	testutil.AssertStatusCode(t, h.do(http.MethodPost, "/api/start").Code, http.StatusCreated)
	rec := h.do(http.MethodGet, "/api/model")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var model ModelResponse
	testutil.DecodeJSON(t, rec, &model)
	assert.Equal(t, []string{"0", "1", "2"}, model.Summary.Classes)
	assert.Nil(t, model.Metrics)

	h.srv.SetMetrics(l4classify.Metrics{
		Classes:   []string{"0", "1", "2"},
		Confusion: [][]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Total:     3,
		Accuracy:  1,
		Recall:    map[string]float64{"0": 1, "1": 1, "2": 1},
	})
	rec = h.do(http.MethodGet, "/api/model/report")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, rec.Body.String(), "Held-out evaluation")

	rec = h.do(http.MethodGet, "/api/model")
	testutil.DecodeJSON(t, rec, &model)
	require.NotNil(t, model.Metrics)
	assert.Equal(t, 3, model.Metrics.Total)
}

func TestRetrainModel(t *testing.T) {
	h := newHarness(t, false)
	testutil.AssertStatusCode(t, h.do(http.MethodPost, "/api/model/retrain").Code, http.StatusNotFound)

	fresh := trainSlot(t).Model()
	calls := 0
	h.srv.SetRetrainer(h.slot, func(context.Context) (*l4classify.Model, *l4classify.Metrics, error) {
		calls++
		return fresh, &l4classify.Metrics{Total: 9, Accuracy: 0.95}, nil
	})

	// A running session pins the model, so training is not attempted.
	testutil.AssertStatusCode(t, h.do(http.MethodPost, "/api/start").Code, http.StatusCreated)
	testutil.AssertStatusCode(t, h.do(http.MethodPost, "/api/model/retrain").Code, http.StatusConflict)
	assert.Zero(t, calls)
	assert.NotSame(t, fresh, h.slot.Model())
	testutil.AssertStatusCode(t, h.do(http.MethodPost, "/api/stop").Code, http.StatusOK)

	rec := h.do(http.MethodPost, "/api/model/retrain")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var model ModelResponse
	testutil.DecodeJSON(t, rec, &model)
	assert.Equal(t, []string{"0", "1", "2"}, model.Summary.Classes)
	require.NotNil(t, model.Metrics)
	assert.InDelta(t, 0.95, model.Metrics.Accuracy, 1e-9)
	assert.Equal(t, 1, calls)
	assert.Same(t, fresh, h.slot.Model())

	rec = h.do(http.MethodGet, "/api/model")
	testutil.DecodeJSON(t, rec, &model)
	require.NotNil(t, model.Metrics)
	assert.Equal(t, 9, model.Metrics.Total)

	// The next session classifies with the new model.
	testutil.AssertStatusCode(t, h.do(http.MethodPost, "/api/start").Code, http.StatusCreated)
	assert.Same(t, fresh, h.mgr.Current().Model())
}

func TestRetrainModelTrainingError(t *testing.T) {
	h := newHarness(t, false)
	before := h.slot.Model()
	h.srv.SetRetrainer(h.slot, func(context.Context) (*l4classify.Model, *l4classify.Metrics, error) {
		return nil, nil, fmt.Errorf("no recordings in /data: %w", emg.ErrTrainingData)
	})

	rec := h.do(http.MethodPost, "/api/model/retrain")
	testutil.AssertStatusCode(t, rec.Code, http.StatusUnprocessableEntity)
	assert.Contains(t, rec.Body.String(), "no recordings")
	assert.Same(t, before, h.slot.Model())
}

func TestSessionRoutes(t *testing.T) {
	h := newHarness(t, true)

	rec := h.do(http.MethodPost, "/api/start")
	testutil.AssertStatusCode(t, rec.Code, http.StatusCreated)
	var status pipeline.Status
	testutil.DecodeJSON(t, rec, &status)
	testutil.AssertStatusCode(t, h.do(http.MethodPost, "/api/stop").Code, http.StatusOK)

	rec = h.do(http.MethodGet, "/api/sessions")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var sessions []db.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, status.SessionID, sessions[0].ID)

	rec = h.do(http.MethodGet, "/api/sessions/"+status.SessionID)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var sum db.SessionSummary
	testutil.DecodeJSON(t, rec, &sum)
	assert.False(t, sum.Session.EndedAt.IsZero(), "stop logs a terminated decision that ends the session")

	testutil.AssertStatusCode(t, h.do(http.MethodGet, "/api/sessions/nope").Code, http.StatusNotFound)
	testutil.AssertStatusCode(t, h.do(http.MethodGet, "/api/sessions?limit=0").Code, http.StatusBadRequest)
	testutil.AssertStatusCode(t, h.do(http.MethodGet, "/api/sessions?limit=5").Code, http.StatusOK)

	noDB := newHarness(t, false)
	testutil.AssertStatusCode(t, noDB.do(http.MethodGet, "/api/sessions").Code, http.StatusNotFound)
	testutil.AssertStatusCode(t, noDB.do(http.MethodGet, "/api/sessions/x").Code, http.StatusNotFound)
}

func TestWriteErrorMapping(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code int
	}{
		{emg.ErrInvalidTransition, http.StatusConflict},
		{emg.ErrConfiguration, http.StatusUnprocessableEntity},
		{fmt.Errorf("retrain: %w", l4classify.ErrModelInUse), http.StatusConflict},
		{fmt.Errorf("no recordings: %w", emg.ErrTrainingData), http.StatusUnprocessableEntity},
		{db.ErrUnknownSession, http.StatusNotFound},
		{errors.New("other"), http.StatusInternalServerError},
	} {
		rec := httptest.NewRecorder()
		writeError(rec, tc.err)
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
	}
}

func TestClient(t *testing.T) {
	h := newHarness(t, true)
	ts := httptest.NewServer(h.h)
	defer ts.Close()

	c := NewClient(ts.URL+"/", nil)
	st, err := c.State()
	require.NoError(t, err)
	assert.Equal(t, emg.StateIdle, st.State)

	started, err := c.Start()
	require.NoError(t, err)
	assert.Equal(t, emg.StateRunning, started.State)

	_, err = c.Start()
	var se *httputil.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.StatusCode)

	status, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, started.SessionID, status.SessionID)

	stopped, err := c.Stop()
	require.NoError(t, err)
	assert.Equal(t, emg.StateTerminated, stopped.State)

	sum, err := c.Session(started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, started.SessionID, sum.Session.ID)

	_, err = c.Retrain()
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)

	h.srv.SetRetrainer(h.slot, func(context.Context) (*l4classify.Model, *l4classify.Metrics, error) {
		return h.slot.Model(), nil, nil
	})
	model, err := c.Retrain()
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2"}, model.Summary.Classes)
	assert.Nil(t, model.Metrics)
}

func TestClientTransportError(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddErrorResponse(errors.New("connection refused"))
	mock.AddResponse(http.StatusOK, `{"state":"RUNNING","session_id":"abc"}`)

	c := NewClient("http://mouse.local", mock)
	_, err := c.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	st, err := c.State()
	require.NoError(t, err)
	assert.Equal(t, emg.StateRunning, st.State)
	assert.Equal(t, "http://mouse.local/api/state", mock.GetRequest(1).URL.String())
	assert.Equal(t, http.MethodPost, mock.GetRequest(0).Method)
}
