package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tuner-backend/internal/database"
	"tuner-backend/internal/messaging"
	"tuner-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (*httptest.Server, *gorm.DB, *messaging.InMemoryQueue) {
	t.Helper()

	db, err := database.NewDatabase("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	queue := messaging.NewInMemoryQueue()

	router := chi.NewRouter()
	NewBackendService(db, queue).AddRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return server, db, queue
}

func httpRequest(t *testing.T, method, url string, body any, result any) int {
	t.Helper()

	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}

	req, err := http.NewRequest(method, url, &reqBody)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if result != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(result))
	}
	return resp.StatusCode
}

func seedRun(t *testing.T, db *gorm.DB, step int, status string) database.ValidationRun {
	t.Helper()
	run := database.ValidationRun{
		Id:           uuid.New(),
		GlobalStep:   step,
		Type:         "intermediary",
		ModelFamily:  "sdxl",
		Status:       status,
		CreationTime: time.Now().UTC(),
	}
	require.NoError(t, db.Create(&run).Error)
	return run
}

func TestHealth(t *testing.T) {
	server, _, _ := setupService(t)
	code := httpRequest(t, http.MethodGet, server.URL+"/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestSubmitRun(t *testing.T) {
	server, db, queue := setupService(t)

	var resp api.SubmitRunResponse
	code := httpRequest(t, http.MethodPost, server.URL+"/runs", api.SubmitRunRequest{
		GlobalStep:      200,
		ForceEvaluation: true,
	}, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.NotEqual(t, uuid.Nil, resp.RunId)

	var record database.ValidationRun
	require.NoError(t, db.First(&record, "id = ?", resp.RunId).Error)
	assert.Equal(t, 200, record.GlobalStep)
	assert.Equal(t, "intermediary", record.Type)
	assert.Equal(t, database.JobQueued, record.Status)
	assert.True(t, record.ForceEvaluation)

	task := <-queue.Tasks()
	var payload messaging.ValidationTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, resp.RunId, payload.RunId)
	assert.Equal(t, 200, payload.GlobalStep)
	assert.True(t, payload.ForceEvaluation)
}

func TestSubmitRun_NegativeStep(t *testing.T) {
	server, _, _ := setupService(t)

	code := httpRequest(t, http.MethodPost, server.URL+"/runs", api.SubmitRunRequest{GlobalStep: -1}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSubmitRun_MalformedBody(t *testing.T) {
	server, _, _ := setupService(t)

	resp, err := http.Post(server.URL+"/runs", "application/json", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListRuns(t *testing.T) {
	server, db, _ := setupService(t)

	seedRun(t, db, 100, database.JobCompleted)
	seedRun(t, db, 200, database.JobCompleted)
	seedRun(t, db, 300, database.JobFailed)

	var resp api.ListRunsResponse
	code := httpRequest(t, http.MethodGet, server.URL+"/runs", nil, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Runs, 3)

	resp = api.ListRunsResponse{}
	code = httpRequest(t, http.MethodGet, server.URL+"/runs?status=COMPLETED", nil, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Runs, 2)

	resp = api.ListRunsResponse{}
	code = httpRequest(t, http.MethodGet, server.URL+"/runs?status=COMPLETED&limit=1", nil, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Runs, 1)
}

func TestGetRun(t *testing.T) {
	server, db, _ := setupService(t)

	run := seedRun(t, db, 100, database.JobCompleted)
	require.NoError(t, database.SaveRunImages(context.Background(), db, []database.ValidationImage{
		{RunId: run.Id, Shortname: "first", Resolution: "1024x1024", Prompt: "a red barn", Luminance: 110.2},
	}))
	database.SaveRunError(context.Background(), db, run.Id, "second", "1024x1024", "device out of memory")

	var resp api.GetRunResponse
	code := httpRequest(t, http.MethodGet, fmt.Sprintf("%s/runs/%s", server.URL, run.Id), nil, &resp)
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, run.Id, resp.Run.Id)
	assert.Equal(t, 1, resp.Run.ImageCount)
	assert.Equal(t, 1, resp.Run.ErrorCount)
	require.Len(t, resp.Images, 1)
	assert.Equal(t, "first", resp.Images[0].Shortname)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "device out of memory", resp.Errors[0].Error)
}

func TestGetRun_NotFound(t *testing.T) {
	server, _, _ := setupService(t)

	code := httpRequest(t, http.MethodGet, fmt.Sprintf("%s/runs/%s", server.URL, uuid.New()), nil, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code = httpRequest(t, http.MethodGet, server.URL+"/runs/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListRunImages(t *testing.T) {
	server, db, _ := setupService(t)

	run := seedRun(t, db, 100, database.JobCompleted)
	require.NoError(t, database.SaveRunImages(context.Background(), db, []database.ValidationImage{
		{RunId: run.Id, Shortname: "first", Resolution: "1024x1024"},
		{RunId: run.Id, Shortname: "first", Resolution: "512x768"},
	}))

	var resp []api.ValidationImage
	code := httpRequest(t, http.MethodGet, fmt.Sprintf("%s/runs/%s/images", server.URL, run.Id), nil, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp, 2)
}

func TestServeRunImage(t *testing.T) {
	server, db, _ := setupService(t)

	imgPath := filepath.Join(t.TempDir(), "step_100_first_64x64.png")
	f, err := os.Create(imgPath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	require.NoError(t, f.Close())

	run := seedRun(t, db, 100, database.JobCompleted)
	require.NoError(t, database.SaveRunImages(context.Background(), db, []database.ValidationImage{
		{RunId: run.Id, Shortname: "first", Resolution: "64x64", Path: imgPath},
	}))

	resp, err := http.Get(fmt.Sprintf("%s/runs/%s/images/first/64x64", server.URL, run.Id))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decoded, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 4, decoded.Bounds().Dx())

	resp, err = http.Get(fmt.Sprintf("%s/runs/%s/images/missing/64x64", server.URL, run.Id))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
