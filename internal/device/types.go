package device

import (
	"fmt"
)

// deviceTokenRequest is the body of the one-time code exchange.
type deviceTokenRequest struct {
	Code       string `json:"code"`
	DeviceDesc string `json:"deviceDesc"`
	DeviceID   string `json:"deviceID"`
}

// uploadMeta is base64-encoded into the rm-meta header of an upload.
type uploadMeta struct {
	FileName string `json:"file_name"`
}

// uploadResponse is returned by the document endpoint on success.
type uploadResponse struct {
	DocID string `json:"docID"`
	Hash  string `json:"hash"`
}

// errorResponse is the JSON error body the cloud returns for some failures.
type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// APIError is a non-success answer from the vendor cloud.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("device API error (HTTP %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("device API error (HTTP %d): %s", e.StatusCode, e.Message)
}
