// Package http provides standardized HTTP utilities for the ABD project
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/baely/abd/internal/common/errors"
	"github.com/baely/abd/internal/common/logger"
)

// Response is a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// JSON writes a JSON response
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("Failed to encode response", "error", err)
		}
	}
}

// Success writes a successful JSON response
func Success(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// Message writes a successful JSON response carrying only a message
func Message(w http.ResponseWriter, message string) {
	JSON(w, http.StatusOK, Response{
		Success: true,
		Message: message,
	})
}

// Error writes an error JSON response
func Error(w http.ResponseWriter, err error, statusCode int) {
	JSON(w, statusCode, Response{
		Success: false,
		Error:   err.Error(),
	})
}

// Acknowledge writes an error body with a 200 status. Used towards callers
// that would otherwise retry a rejected delivery.
func Acknowledge(w http.ResponseWriter, err error) {
	Error(w, err, http.StatusOK)
}

// HandleError determines the appropriate status code based on error type
func HandleError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError

	switch {
	case errors.Is(err, errors.ErrNotFound):
		statusCode = http.StatusNotFound
	case errors.Is(err, errors.ErrInvalidInput), errors.Is(err, errors.ErrInvalidState):
		statusCode = http.StatusBadRequest
	case errors.Is(err, errors.ErrUnauthorized):
		statusCode = http.StatusUnauthorized
	case errors.Is(err, errors.ErrForbidden):
		statusCode = http.StatusForbidden
	}

	Error(w, err, statusCode)
}

// NewRouter creates a new Chi router with standard middleware
func NewRouter(log *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(log))
	r.Use(middleware.Recoverer)

	return r
}
