/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/llm-d/llm-d-extractive-qa/pkg/errdefs"
	"github.com/llm-d/llm-d-extractive-qa/pkg/qa"
	"github.com/llm-d/llm-d-extractive-qa/pkg/server"
)

// MockService implements the server.QAService interface for testing.
type MockService struct {
	mock.Mock
}

func (m *MockService) Answer(ctx context.Context, modelID, question, passage string) (string, error) {
	args := m.Called(ctx, modelID, question, passage)
	return args.String(0), args.Error(1)
}

func (m *MockService) Metadata(modelID string) (*qa.ModelMetadata, error) {
	args := m.Called(modelID)
	md, _ := args.Get(0).(*qa.ModelMetadata) //nolint:errcheck // return mocked values
	return md, args.Error(1)
}

func (m *MockService) Ready() bool {
	return m.Called().Bool(0)
}

func newTestServer(t *testing.T, service server.QAService, opts ...server.Option) *server.Server {
	t.Helper()
	s, err := server.NewServer(t.Context(), server.DefaultConfig(), service, opts...)
	require.NoError(t, err)
	return s
}

func serve(s *server.Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestWelcome(t *testing.T) {
	s := newTestServer(t, &MockService{})

	rec := serve(s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to MLOps World", decode[server.WelcomeResponse](t, rec).Message)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestPredict_Query(t *testing.T) {
	service := &MockService{}
	service.On("Answer", mock.Anything, "", "Why?", "Because of freedom.").Return("freedom", nil)
	s := newTestServer(t, service)

	rec := serve(s, http.MethodGet, "/predict?question=Why%3F&context=Because+of+freedom.", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "freedom", decode[server.PredictResponse](t, rec).Answer)
	service.AssertExpectations(t)
}

func TestPredict_MissingParamsAreEmpty(t *testing.T) {
	service := &MockService{}
	service.On("Answer", mock.Anything, "", "", "").Return("", nil)
	s := newTestServer(t, service)

	rec := serve(s, http.MethodGet, "/predict", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"answer":""}`, rec.Body.String())
}

func TestPredict_JSON(t *testing.T) {
	service := &MockService{}
	service.On("Answer", mock.Anything, "other/model", "Who?", "Ada wrote it.").Return("Ada", nil)
	s := newTestServer(t, service)

	rec := serve(s, http.MethodPost, "/predict",
		`{"question":"Who?","context":"Ada wrote it.","model":"other/model"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ada", decode[server.PredictResponse](t, rec).Answer)
}

func TestPredict_MalformedBody(t *testing.T) {
	service := &MockService{}
	s := newTestServer(t, service)

	rec := serve(s, http.MethodPost, "/predict", `{"question":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "malformed request body", decode[server.ErrorResponse](t, rec).Error)
	service.AssertNotCalled(t, "Answer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPredict_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "model unavailable",
			err:        errdefs.NewUnavailableError("bucket unreachable", errors.New("dial tcp")),
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "bucket unreachable",
		},
		{
			name:       "model not found",
			err:        errdefs.NewNotFoundError("no objects under s3://models/x", nil),
			wantStatus: http.StatusInternalServerError,
			wantError:  "no objects under s3://models/x",
		},
		{
			name:       "model not served",
			err:        errdefs.NewInvalidInputError(`model "x" is not served`, nil),
			wantStatus: http.StatusBadRequest,
			wantError:  `model "x" is not served`,
		},
		{
			name:       "inference failure",
			err:        errors.New("forward pass failed"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &MockService{}
			service.On("Answer", mock.Anything, "", "q", "c").Return("", tt.err)
			s := newTestServer(t, service)

			rec := serve(s, http.MethodGet, "/predict?question=q&context=c", "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decode[server.ErrorResponse](t, rec).Error)
		})
	}
}

func TestPredict_Timeout(t *testing.T) {
	service := &MockService{}
	service.On("Answer", mock.Anything, "", "q", "c").
		After(200*time.Millisecond).Return("late", nil)

	cfg := server.DefaultConfig()
	cfg.RequestTimeout = metav1.Duration{Duration: 10 * time.Millisecond}
	s, err := server.NewServer(t.Context(), cfg, service)
	require.NoError(t, err)

	rec := serve(s, http.MethodGet, "/predict?question=q&context=c", "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestHealthz(t *testing.T) {
	service := &MockService{}
	service.On("Ready").Return(false).Once()
	service.On("Ready").Return(true)
	s := newTestServer(t, service)

	rec := serve(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "loading", decode[server.HealthResponse](t, rec).Status)

	rec = serve(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetadata(t *testing.T) {
	loadedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	service := &MockService{}
	service.On("Metadata", "").Return(&qa.ModelMetadata{
		ModelID:           "deepset/roberta-base-squad2",
		Dir:               "models/deepset/roberta-base-squad2",
		LoadedAt:          loadedAt,
		TemplateKind:      "roberta",
		MaxSequenceLength: 512,
	}, nil)
	service.On("Metadata", "loading/model").Return(nil,
		errdefs.NewUnavailableError("model loading/model is not loaded yet", nil))
	s := newTestServer(t, service)

	rec := serve(s, http.MethodGet, "/metadata", "")
	require.Equal(t, http.StatusOK, rec.Code)
	md := decode[qa.ModelMetadata](t, rec)
	assert.Equal(t, "roberta", md.TemplateKind)
	assert.Equal(t, 512, md.MaxSequenceLength)
	assert.True(t, loadedAt.Equal(md.LoadedAt))

	rec = serve(s, http.MethodGet, "/metadata?model=loading/model", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_requests_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	s := newTestServer(t, &MockService{}, server.WithGatherer(registry))

	rec := serve(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_requests_total 1")
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, &MockService{})

	rec := serve(s, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfig_Validate(t *testing.T) {
	cfg := server.DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Port = "http"
	assert.Error(t, cfg.Validate())

	cfg.Port = "70000"
	assert.Error(t, cfg.Validate())
}
