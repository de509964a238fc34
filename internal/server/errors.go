package server

import (
	"errors"
	"net/http"

	"geosync/internal/geosync"
)

// ErrBadRequest is returned for malformed requests.
var ErrBadRequest = errors.New("bad request")

// Error codes carried in error responses.
const (
	CodeBadRequest      = "bad_request"
	CodeUnauthorized    = "unauthorized"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeFileNotFound    = "file_not_found"
	CodeNoDiffChain     = "no_diff_chain"
	CodeVersionConflict = "version_conflict"
	CodeBusy            = "busy"
	CodeExists          = "exists"
	CodeQuota           = "quota"
	CodeIntegrity       = "integrity"
	CodeInternal        = "internal"
)

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

var codes = []struct {
	err    error
	code   string
	status int
}{
	{ErrBadRequest, CodeBadRequest, http.StatusBadRequest},
	{geosync.ErrUnauthorized, CodeUnauthorized, http.StatusUnauthorized},
	{geosync.ErrPermissionDenied, CodeForbidden, http.StatusForbidden},
	{geosync.ErrProjectNotFound, CodeNotFound, http.StatusNotFound},
	{geosync.ErrFileNotFound, CodeFileNotFound, http.StatusNotFound},
	{geosync.ErrNoDiffChain, CodeNoDiffChain, http.StatusNotFound},
	{geosync.ErrVersionConflict, CodeVersionConflict, http.StatusConflict},
	{geosync.ErrLocked, CodeBusy, http.StatusConflict},
	{geosync.ErrProjectExists, CodeExists, http.StatusConflict},
	{geosync.ErrQuotaExceeded, CodeQuota, http.StatusRequestEntityTooLarge},
	{geosync.ErrIntegrity, CodeIntegrity, http.StatusUnprocessableEntity},
}

// StatusFor maps an error to its response status and code.
func StatusFor(err error) (int, string) {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// ErrorFor maps a response code back to the error it stands for, or nil for
// an unknown code.
func ErrorFor(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
