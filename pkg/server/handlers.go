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

package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-extractive-qa/pkg/errdefs"
	"github.com/llm-d/llm-d-extractive-qa/pkg/qa"
	"github.com/llm-d/llm-d-extractive-qa/pkg/utils/logging"
)

const welcomeMessage = "Welcome to MLOps World"

// QAService answers questions. *qa.Service implements it.
type QAService interface {
	Answer(ctx context.Context, modelID, question, passage string) (string, error)
	Metadata(modelID string) (*qa.ModelMetadata, error)
	Ready() bool
}

var _ QAService = &qa.Service{}

// PredictRequest is the input of a prediction. GET requests carry it as
// query parameters, POST requests as a JSON body.
type PredictRequest struct {
	Question string `json:"question" query:"question"`
	Context  string `json:"context" query:"context"`
	// Model optionally selects one of the served models.
	Model string `json:"model,omitempty" query:"model"`
}

// PredictResponse is the output of a prediction.
type PredictResponse struct {
	Answer string `json:"answer"`
}

// WelcomeResponse is the body of the index route.
type WelcomeResponse struct {
	Message string `json:"message"`
}

// HealthResponse is the body of the readiness route.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) welcome(c echo.Context) error {
	return c.JSON(http.StatusOK, WelcomeResponse{Message: welcomeMessage})
}

// predictQuery serves GET /predict. Missing parameters count as empty text.
func (s *Server) predictQuery(c echo.Context) error {
	req := PredictRequest{
		Question: c.QueryParam("question"),
		Context:  c.QueryParam("context"),
		Model:    c.QueryParam("model"),
	}
	return s.predict(c, &req)
}

// predictJSON serves POST /predict.
func (s *Server) predictJSON(c echo.Context) error {
	var req PredictRequest
	if err := (&echo.DefaultBinder{}).BindBody(c, &req); err != nil {
		return errdefs.NewInvalidInputError("malformed request body", err)
	}
	return s.predict(c, &req)
}

func (s *Server) predict(c echo.Context, req *PredictRequest) error {
	ctx := c.Request().Context()
	klog.FromContext(ctx).V(logging.DEBUG).Info("prediction requested",
		"model", req.Model, "question", req.Question)

	answer, err := runWithTimeout(ctx, s.cfg.RequestTimeout.Duration,
		func(ctx context.Context) (string, error) {
			return s.service.Answer(ctx, req.Model, req.Question, req.Context)
		})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, PredictResponse{Answer: answer})
}

func (s *Server) metadata(c echo.Context) error {
	md, err := s.service.Metadata(c.QueryParam("model"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, md)
}

func (s *Server) healthz(c echo.Context) error {
	if !s.service.Ready() {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "loading"})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
