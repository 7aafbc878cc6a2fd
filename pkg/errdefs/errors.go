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

// Package errdefs defines the error classes surfaced by the model provider and
// the question-answering service, together with their HTTP status mapping.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// NotFoundError reports an unknown or invalid model identifier, or a model
// whose artifacts cannot be located in any configured source.
type NotFoundError struct {
	Message string
	Err     error
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(message string, err error) *NotFoundError {
	return &NotFoundError{Message: message, Err: err}
}

func (e *NotFoundError) Error() string { return format("not found", e.Message, e.Err) }

func (e *NotFoundError) Unwrap() error { return e.Err }

// HTTPStatus returns the status a NotFoundError surfaces as. A model that
// cannot be found is a server-side misconfiguration, hence 500.
func (e *NotFoundError) HTTPStatus() int { return http.StatusInternalServerError }

// UnavailableError reports a storage or network failure while fetching or
// loading model artifacts.
type UnavailableError struct {
	Message string
	Err     error
}

// NewUnavailableError creates a new UnavailableError.
func NewUnavailableError(message string, err error) *UnavailableError {
	return &UnavailableError{Message: message, Err: err}
}

func (e *UnavailableError) Error() string { return format("unavailable", e.Message, e.Err) }

func (e *UnavailableError) Unwrap() error { return e.Err }

// HTTPStatus returns http.StatusServiceUnavailable.
func (e *UnavailableError) HTTPStatus() int { return http.StatusServiceUnavailable }

// InvalidInputError reports a malformed request.
type InvalidInputError struct {
	Message string
	Err     error
}

// NewInvalidInputError creates a new InvalidInputError.
func NewInvalidInputError(message string, err error) *InvalidInputError {
	return &InvalidInputError{Message: message, Err: err}
}

func (e *InvalidInputError) Error() string { return format("invalid input", e.Message, e.Err) }

func (e *InvalidInputError) Unwrap() error { return e.Err }

// HTTPStatus returns http.StatusBadRequest.
func (e *InvalidInputError) HTTPStatus() int { return http.StatusBadRequest }

// IsNotFound reports whether any error in err's chain is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsUnavailable reports whether any error in err's chain is an
// UnavailableError.
func IsUnavailable(err error) bool {
	var target *UnavailableError
	return errors.As(err, &target)
}

// IsInvalidInput reports whether any error in err's chain is an
// InvalidInputError.
func IsInvalidInput(err error) bool {
	var target *InvalidInputError
	return errors.As(err, &target)
}

type statusCoder interface {
	HTTPStatus() int
}

// HTTPStatus maps err to an HTTP status code. Errors outside the taxonomy
// map to http.StatusInternalServerError.
func HTTPStatus(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// Message returns the user-facing message of a taxonomy error, or the full
// error string otherwise.
func Message(err error) string {
	var (
		nf *NotFoundError
		un *UnavailableError
		ii *InvalidInputError
	)
	switch {
	case errors.As(err, &nf):
		return nf.Message
	case errors.As(err, &un):
		return un.Message
	case errors.As(err, &ii):
		return ii.Message
	default:
		return err.Error()
	}
}

func format(class, message string, err error) string {
	if err == nil {
		return fmt.Sprintf("%s: %s", class, message)
	}
	return fmt.Sprintf("%s: %s: %v", class, message, err)
}
