package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mrzgate/internal/model"
	"mrzgate/internal/service"
	serviceMocks "mrzgate/internal/service/mocks"
	"mrzgate/internal/storage"
	storeMocks "mrzgate/internal/storage/mocks"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, jobs service.JobService) (*fiber.App, *storeMocks.MockStorage, sqlmock.Sqlmock) {
	t.Helper()

	db, dbMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := new(storeMocks.MockStorage)
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	RegisterRoutes(app, db, store, jobs)
	return app, store, dbMock
}

func TestHealthCheck(t *testing.T) {
	app, _, dbMock := newTestApp(t, nil)

	t.Run("healthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("unhealthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(errors.New("db error"))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "SERVICE_UNAVAILABLE", body.Error.Code)
	})
}

func TestLivenessProbe(t *testing.T) {
	app, _, _ := newTestApp(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, _ := app.Test(req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUploadImage(t *testing.T) {
	app, store, _ := newTestApp(t, nil)

	t.Run("success", func(t *testing.T) {
		body := &bytes.Buffer{}
		w := multipart.NewWriter(body)
		fw, err := w.CreateFormFile("image", "passport.jpg")
		require.NoError(t, err)
		fw.Write([]byte("fake image bytes"))
		w.Close()

		store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(storage.ObjectInfo{Key: "images/abc.jpg", Size: 16}, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/images", body)
		req.Header.Set("Content-Type", w.FormDataContentType())
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var out map[string]any
		json.NewDecoder(resp.Body).Decode(&out)
		assert.Equal(t, "images/abc.jpg", out["image_key"])
		store.AssertExpectations(t)
	})

	t.Run("missing file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/images", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "IMAGE_REQUIRED", body.Error.Code)
	})

	t.Run("storage failure", func(t *testing.T) {
		body := &bytes.Buffer{}
		w := multipart.NewWriter(body)
		fw, _ := w.CreateFormFile("image", "passport.jpg")
		fw.Write([]byte("fake image bytes"))
		w.Close()

		store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(storage.ObjectInfo{}, errors.New("minio down")).Once()

		req := httptest.NewRequest(http.MethodPost, "/images", body)
		req.Header.Set("Content-Type", w.FormDataContentType())
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestSubmitJob(t *testing.T) {
	mockSvc := new(serviceMocks.MockJobService)
	app, _, _ := newTestApp(t, mockSvc)

	t.Run("accepted", func(t *testing.T) {
		job := &model.Job{ID: uuid.NewString(), TenantID: "acme", State: model.StatePending}
		mockSvc.On("Submit", mock.Anything, "acme", "images/a.jpg").Return(job, nil).Once()

		body := strings.NewReader(`{"tenant_id":"acme","image_key":"images/a.jpg"}`)
		req := httptest.NewRequest(http.MethodPost, "/jobs", body)
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		var out model.Job
		json.NewDecoder(resp.Body).Decode(&out)
		assert.Equal(t, job.ID, out.ID)
		mockSvc.AssertExpectations(t)
	})

	t.Run("capacity exceeded", func(t *testing.T) {
		mockSvc.On("Submit", mock.Anything, "acme", "images/b.jpg").
			Return(nil, service.ErrCapacityExceeded).Once()

		body := strings.NewReader(`{"tenant_id":"acme","image_key":"images/b.jpg"}`)
		req := httptest.NewRequest(http.MethodPost, "/jobs", body)
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

		var payload errorPayload
		json.NewDecoder(resp.Body).Decode(&payload)
		assert.Equal(t, "CAPACITY_EXCEEDED", payload.Error.Code)
	})

	t.Run("missing tenant", func(t *testing.T) {
		mockSvc.On("Submit", mock.Anything, "", "images/c.jpg").
			Return(nil, service.ErrTenantRequired).Once()

		body := strings.NewReader(`{"image_key":"images/c.jpg"}`)
		req := httptest.NewRequest(http.MethodPost, "/jobs", body)
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestGetJob(t *testing.T) {
	mockSvc := new(serviceMocks.MockJobService)
	app, _, _ := newTestApp(t, mockSvc)

	t.Run("found", func(t *testing.T) {
		id := uuid.NewString()
		job := &model.Job{ID: id, TenantID: "acme", State: model.StateAutoAccepted}
		mockSvc.On("Get", mock.Anything, id).Return(job, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var out model.Job
		json.NewDecoder(resp.Body).Decode(&out)
		assert.Equal(t, model.StateAutoAccepted, out.State)
	})

	t.Run("not found", func(t *testing.T) {
		id := uuid.NewString()
		mockSvc.On("Get", mock.Anything, id).Return(nil, service.ErrNotFound).Once()

		req := httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("invalid id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/jobs/not-a-uuid", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var payload errorPayload
		json.NewDecoder(resp.Body).Decode(&payload)
		assert.Equal(t, "INVALID_ID", payload.Error.Code)
	})
}

func TestSubmitReview(t *testing.T) {
	mockSvc := new(serviceMocks.MockJobService)
	app, _, _ := newTestApp(t, mockSvc)

	line1 := "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<"
	line2 := "L898902C36UTO7408122F1204159ZE184226B<<<<<10"

	t.Run("approved", func(t *testing.T) {
		id := uuid.NewString()
		job := &model.Job{ID: id, State: model.StateAutoAccepted}
		mockSvc.On("SubmitReview", mock.Anything, id, line1, line2).Return(job, nil).Once()

		body, _ := json.Marshal(map[string]string{"mrz_line1": line1, "mrz_line2": line2})
		req := httptest.NewRequest(http.MethodPost, "/jobs/"+id+"/review", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("not reviewable", func(t *testing.T) {
		id := uuid.NewString()
		mockSvc.On("SubmitReview", mock.Anything, id, line1, line2).
			Return(nil, service.ErrNotReviewable).Once()

		body, _ := json.Marshal(map[string]string{"mrz_line1": line1, "mrz_line2": line2})
		req := httptest.NewRequest(http.MethodPost, "/jobs/"+id+"/review", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("malformed mrz", func(t *testing.T) {
		id := uuid.NewString()
		mockSvc.On("SubmitReview", mock.Anything, id, "short", "short").
			Return(nil, service.ErrInvalidMRZ).Once()

		body, _ := json.Marshal(map[string]string{"mrz_line1": "short", "mrz_line2": "short"})
		req := httptest.NewRequest(http.MethodPost, "/jobs/"+id+"/review", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		var payload errorPayload
		json.NewDecoder(resp.Body).Decode(&payload)
		assert.Equal(t, "INVALID_MRZ", payload.Error.Code)
	})
}

func TestOCRWebhook(t *testing.T) {
	mockSvc := new(serviceMocks.MockJobService)
	app, _, _ := newTestApp(t, mockSvc)

	line1 := "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<"
	line2 := "L898902C36UTO7408122F1204159ZE184226B<<<<<10"

	t.Run("recorded", func(t *testing.T) {
		id := uuid.NewString()
		job := &model.Job{ID: id, State: model.StateManualReview}
		mockSvc.On("RecordAsyncResult", mock.Anything, id, "yandex_vision", line1, line2, int64(340)).
			Return(job, nil).Once()

		body, _ := json.Marshal(map[string]any{
			"job_id":     id,
			"mrz_line1":  line1,
			"mrz_line2":  line2,
			"latency_ms": 340,
		})
		req := httptest.NewRequest(http.MethodPost, "/webhooks/ocr/yandex_vision", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("schema violation", func(t *testing.T) {
		body := strings.NewReader(`{"job_id":"x","mrz_line1":"y"}`)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/ocr/yandex_vision", body)
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var payload errorPayload
		json.NewDecoder(resp.Body).Decode(&payload)
		assert.Equal(t, "SCHEMA_VIOLATION", payload.Error.Code)
	})

	t.Run("terminal job", func(t *testing.T) {
		id := uuid.NewString()
		mockSvc.On("RecordAsyncResult", mock.Anything, id, "paddle", line1, line2, int64(0)).
			Return(nil, service.ErrJobTerminal).Once()

		body, _ := json.Marshal(map[string]any{
			"job_id":    id,
			"mrz_line1": line1,
			"mrz_line2": line2,
		})
		req := httptest.NewRequest(http.MethodPost, "/webhooks/ocr/paddle", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}
