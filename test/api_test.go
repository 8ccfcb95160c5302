package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpansubho/opd-flow-optimizer/internal/handlers"
	"github.com/arpansubho/opd-flow-optimizer/internal/mlops"
	"github.com/arpansubho/opd-flow-optimizer/internal/models"
	"github.com/arpansubho/opd-flow-optimizer/internal/registry"
	"github.com/arpansubho/opd-flow-optimizer/internal/scheduling"
	"github.com/arpansubho/opd-flow-optimizer/internal/ws"
)

type fixedPredictor struct{ minutes float64 }

func (p fixedPredictor) Predict(mlops.Features) (float64, float64) { return p.minutes, 0.9 }

type memoryArchiver struct {
	mu      sync.Mutex
	records []models.VisitRecord
}

func (a *memoryArchiver) Archive(rec models.VisitRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

// worseTrainer produces a candidate whose RMSE regresses 20% against the
// active model's 10.
type worseTrainer struct{}

func (worseTrainer) Train(ctx context.Context) (*mlops.Candidate, error) {
	return &mlops.Candidate{Handle: &mlops.ModelHandle{
		Version:   "v-worse",
		Metrics:   mlops.Metrics{RMSE: 12, MAE: 8},
		Predictor: fixedPredictor{minutes: 9},
	}}, nil
}

func setupTestServer(trainer mlops.Trainer, archiver handlers.VisitArchiver) (*httptest.Server, *mlops.Orchestrator) {
	gin.SetMode(gin.TestMode)

	reg := registry.New()
	reg.AddDoctor(registry.Doctor{ID: "DOC_001", Name: "Dr. A. Sharma", Department: "General Medicine"})
	reg.AddDoctor(registry.Doctor{ID: "DOC_002", Name: "Dr. R. Iyer", Department: "General Medicine"})
	reg.AddDoctor(registry.Doctor{ID: "DOC_003", Name: "Dr. S. Banerjee", Department: "Cardiology"})

	handle := &mlops.ModelHandle{
		Version:   "v-active",
		Metrics:   mlops.Metrics{RMSE: 10, MAE: 8},
		Predictor: fixedPredictor{minutes: 10},
	}
	orch := mlops.NewOrchestrator(mlops.DefaultConfig(), trainer, nil, handle)
	engine := scheduling.NewEngine(reg, orch)

	// Each server gets its own hub; the ws route and broadcasts must share it.
	hub := ws.NewHub()
	go hub.Run()

	r := gin.Default()
	api := &handlers.API{
		Engine:       engine,
		Registry:     reg,
		Orchestrator: orch,
		Hub:          hub,
		Archiver:     archiver,
	}
	api.RegisterRoutes(r)

	return httptest.NewServer(r), orch
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return res
}

func decode(t *testing.T, res *http.Response) map[string]interface{} {
	t.Helper()
	defer res.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func TestPredictFlow(t *testing.T) {
	archiver := &memoryArchiver{}
	ts, _ := setupTestServer(nil, archiver)
	defer ts.Close()

	// Watch the doctor's event stream like a token display would.
	wsURL := "ws" + ts.URL[4:] + "/api/doctors/DOC_003/ws"
	wsConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "ws dial failed")
	defer wsConn.Close()
	// give the hub a moment to process the subscription
	time.Sleep(50 * time.Millisecond)

	res := postJSON(t, ts.URL+"/predict", gin.H{
		"Department": "Cardiology",
		"DoctorID":   "DOC_003",
		"PatientID":  "P100",
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	first := decode(t, res)
	assert.Equal(t, float64(1), first["TokenNumber"])
	assert.Equal(t, "DOC_003", first["DoctorID"])
	assert.Equal(t, float64(0), first["WaitTime_Minutes"])
	assert.NotEmpty(t, first["PredictedConsultTime"])

	res = postJSON(t, ts.URL+"/predict", gin.H{
		"Department": "Cardiology",
		"DoctorID":   "DOC_003",
		"PatientID":  "P101",
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	second := decode(t, res)
	assert.Equal(t, float64(2), second["TokenNumber"])
	assert.InDelta(t, 10.0, second["WaitTime_Minutes"].(float64), 0.01)

	// The token display received the issuance event.
	_, msg, err := wsConn.ReadMessage()
	require.NoError(t, err)
	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(msg, &event))
	assert.Equal(t, "token_issued", event["event_type"])
	assert.Equal(t, "DOC_003", event["doctor_id"])
}

func TestPredictValidation(t *testing.T) {
	ts, _ := setupTestServer(nil, &memoryArchiver{})
	defer ts.Close()

	res := postJSON(t, ts.URL+"/predict", gin.H{"PriorityFlag": 0})
	body := decode(t, res)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])

	res = postJSON(t, ts.URL+"/predict", gin.H{"Department": "Neurology"})
	body = decode(t, res)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "INVALID_DEPARTMENT", body["code"])

	res = postJSON(t, ts.URL+"/predict", gin.H{"Department": "Cardiology", "DoctorID": "DOC_999"})
	body = decode(t, res)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "DOCTOR_NOT_FOUND", body["code"])

	res = postJSON(t, ts.URL+"/predict", gin.H{"Department": "Cardiology", "DoctorID": "DOC_001"})
	body = decode(t, res)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "DEPARTMENT_MISMATCH", body["code"])
}

func TestLoadBalancedAssignment(t *testing.T) {
	ts, _ := setupTestServer(nil, &memoryArchiver{})
	defer ts.Close()

	assigned := map[string]int{}
	for i := 0; i < 4; i++ {
		res := postJSON(t, ts.URL+"/predict", gin.H{
			"Department": "General Medicine",
			"PatientID":  fmt.Sprintf("P%d", i),
		})
		require.Equal(t, http.StatusOK, res.StatusCode)
		body := decode(t, res)
		assigned[body["DoctorID"].(string)]++
	}
	// Least-loaded routing alternates between the two GM doctors.
	assert.Equal(t, 2, assigned["DOC_001"])
	assert.Equal(t, 2, assigned["DOC_002"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := setupTestServer(nil, &memoryArchiver{})
	defer ts.Close()

	res, err := http.Get(ts.URL + "/mlops/metrics")
	require.NoError(t, err)
	body := decode(t, res)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "v-active", body["model_version"])
	assert.Equal(t, 10.0, body["rmse"])
	assert.Equal(t, 8.0, body["mae"])
	// The seeded handle never went through the gates.
	assert.Equal(t, false, body["accuracy_check"])
}

func TestRetrainRejectionSurfacesGate(t *testing.T) {
	// Candidate regresses RMSE by 20% against a 10% tolerance.
	trainer := &worseTrainer{}
	ts, orch := setupTestServer(trainer, &memoryArchiver{})
	defer ts.Close()

	res := postJSON(t, ts.URL+"/mlops/retrain", gin.H{})
	body := decode(t, res)
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	assert.Equal(t, "rejected", body["status"])
	assert.Equal(t, "accuracy", body["gate"])
	assert.Equal(t, "v-active", body["model_version"])

	// The rejected candidate is invisible to the serving path.
	assert.Equal(t, "v-active", orch.Metrics().ModelVersion)
}

func TestDoctorConsultLifecycle(t *testing.T) {
	archiver := &memoryArchiver{}
	ts, _ := setupTestServer(nil, archiver)
	defer ts.Close()

	res := postJSON(t, ts.URL+"/predict", gin.H{
		"Department": "Cardiology",
		"DoctorID":   "DOC_003",
		"PatientID":  "P200",
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	res = postJSON(t, ts.URL+"/doctors/DOC_003/next", gin.H{})
	body := decode(t, res)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, float64(1), body["token"])

	res = postJSON(t, ts.URL+"/doctors/DOC_003/complete", gin.H{"token": 1, "status": "done"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	require.Len(t, archiver.records, 1)
	assert.Equal(t, "done", archiver.records[0].Status)
	assert.Equal(t, "DOC_003", archiver.records[0].DoctorID)
	assert.Equal(t, 1, archiver.records[0].Token)

	// Calling next again on an empty queue is a clean 404.
	res = postJSON(t, ts.URL+"/doctors/DOC_003/next", gin.H{})
	body = decode(t, res)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "QUEUE_EMPTY", body["code"])
}

func TestArchivedRecordCarriesQueueLoad(t *testing.T) {
	archiver := &memoryArchiver{}
	ts, _ := setupTestServer(nil, archiver)
	defer ts.Close()

	// First patient registers against an empty queue, the second sees one
	// patient ahead. That observed load is a model feature and must survive
	// into the training row.
	for _, patient := range []string{"P300", "P301"} {
		res := postJSON(t, ts.URL+"/predict", gin.H{
			"Department": "Cardiology",
			"DoctorID":   "DOC_003",
			"PatientID":  patient,
		})
		require.Equal(t, http.StatusOK, res.StatusCode)
		res.Body.Close()
	}

	res := postJSON(t, ts.URL+"/doctors/DOC_003/complete", gin.H{"token": 2, "status": "cancelled"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	require.Len(t, archiver.records, 1)
	assert.Equal(t, 2, archiver.records[0].Token)
	assert.Equal(t, 1, archiver.records[0].QueueLoad)
}

func TestDoctorLoadsView(t *testing.T) {
	ts, _ := setupTestServer(nil, &memoryArchiver{})
	defer ts.Close()

	res := postJSON(t, ts.URL+"/predict", gin.H{"Department": "Cardiology"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	res, err := http.Get(ts.URL + "/doctors/loads")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var loads []map[string]interface{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&loads))
	require.Len(t, loads, 3)

	byID := map[string]map[string]interface{}{}
	for _, row := range loads {
		byID[row["id"].(string)] = row
	}
	assert.Equal(t, float64(1), byID["DOC_003"]["queue"])
	assert.Equal(t, false, byID["DOC_003"]["busy"])
	assert.Equal(t, "Cardiology", byID["DOC_003"]["dept"])
}
