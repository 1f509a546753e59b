// Package server provides the HTTP surface of the frame extractor.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "github.com/maauso/frame-extractor/internal/job"

// ExtractRequest is the HTTP request body for starting an extraction.
type ExtractRequest struct {
	// VideoID identifies a registered source video.
	VideoID string `json:"videoId" validate:"required,uuid"`
	// Options are optional; omitted fields take their defaults.
	Options *job.OptionsInput `json:"options,omitempty"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// FramesResponse lists resolved frames.
type FramesResponse struct {
	Frames []job.FrameView `json:"frames"`
	Count  int             `json:"count"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
