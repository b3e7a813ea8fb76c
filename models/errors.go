package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	// Scraper script failures. Label carries the scraper's label.
	ErrCodeDetectScript   = "DETECT_SCRIPT_FAILED"
	ErrCodeExtractScript  = "EXTRACT_SCRIPT_FAILED"
	ErrCodeInvalidPattern = "INVALID_PATTERN"

	// Fetch pipeline failures, routed to the caller's error channel.
	ErrCodePipeline         = "PIPELINE_FAILED"
	ErrCodePipelineCanceled = "PIPELINE_CANCELED"
	ErrCodePipelineBusy     = "PIPELINE_BUSY"

	// Utility helper failures are logged, never surfaced to a session.
	ErrCodeUtility = "UTILITY_FAILED"

	ErrCodeNoScraper    = "NO_SCRAPER"
	ErrCodeNavigation   = "NAVIGATION_FAILED"
	ErrCodeBrowserCrash = "BROWSER_CRASH"
	ErrCodeStorage      = "STORAGE_FAILED"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Scraper string `json:"scraper,omitempty"`
}

// IngestError is the internal error type carrying an error code.
// Label names the scraper involved, when there is one.
type IngestError struct {
	Code    string
	Label   string
	Message string
	Err     error // wrapped original error
}

func (e *IngestError) Error() string {
	msg := e.Message
	if e.Label != "" {
		msg = fmt.Sprintf("%s in %s", e.Message, e.Label)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// NewIngestError creates a new IngestError.
func NewIngestError(code, message string, err error) *IngestError {
	return &IngestError{Code: code, Message: message, Err: err}
}

// NewScriptError creates an IngestError attributed to the scraper with the given label.
func NewScriptError(code, label, message string, err error) *IngestError {
	return &IngestError{Code: code, Label: label, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *IngestError) ToDetail() *ErrorDetail {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return &ErrorDetail{Code: e.Code, Message: msg, Scraper: e.Label}
}

// IsCode reports whether err wraps an IngestError with the given code.
func IsCode(err error, code string) bool {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Code == code
	}
	return false
}
