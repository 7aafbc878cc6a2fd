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
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-extractive-qa/pkg/errdefs"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// errorHandler renders errors as JSON, mapping the errdefs taxonomy onto
// status codes.
func errorHandler(logger klog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, message := classify(err)
		if status >= http.StatusInternalServerError {
			klog.FromContext(c.Request().Context()).Error(err, "request failed", "status", status)
		} else {
			logger.V(1).Info("request rejected", "status", status, "reason", message)
		}

		if err := c.JSON(status, ErrorResponse{Error: message}); err != nil {
			logger.Error(err, "failed to write error response")
		}
	}
}

func classify(err error) (int, string) {
	switch {
	case errdefs.IsInvalidInput(err), errdefs.IsNotFound(err), errdefs.IsUnavailable(err):
		return errdefs.HTTPStatus(err), errdefs.Message(err)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "prediction timed out"
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprintf("%v", he.Message)
	}

	return http.StatusInternalServerError, "internal server error"
}
