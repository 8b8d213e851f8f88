// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

package api

import (
	"net/http"

	"github.com/turnstile/turnstile/internal/auth"
)

// CodeInvalidBody is returned for unreadable, oversized or non-JSON bodies.
const CodeInvalidBody = "REQUEST_INVALID_BODY"

// codeInternal is the public code of every unmapped failure.
const codeInternal = "INTERNAL_ERROR"

type errorMapping struct {
	status  int
	message string
}

// publicErrors maps service error codes to a status and a fixed message.
// Codes absent from the table are internal faults and are reported as 500
// without detail.
var publicErrors = map[string]errorMapping{
	auth.CodeNotAuthenticated:     {http.StatusUnauthorized, "Not logged in."},
	auth.CodeAlreadyAuthenticated: {http.StatusConflict, "Already logged in."},
	auth.CodeNotAuthorized:        {http.StatusForbidden, "Not authorized."},
	auth.CodeAccountNotFound:      {http.StatusNotFound, "User doesn't exist"},
	auth.CodeDuplicateUsername:    {http.StatusConflict, "User exists already"},
	auth.CodeMissingField:         {http.StatusBadRequest, "Missing username or password"},
	auth.CodeInvalidCredentials:   {http.StatusUnauthorized, "Wrong credentials!"},
	auth.CodeMalformedCookie:      {http.StatusUnauthorized, "Invalid session cookie."},
	auth.CodeCreationFailed:       {http.StatusInternalServerError, "Could not create user"},
	CodeInvalidBody:               {http.StatusBadRequest, "Invalid request body."},
}

// ErrorBody is the JSON envelope of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail identifies a failure by stable code and human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// resolve returns the status and body for an error code.
func resolve(code string) (int, ErrorBody) {
	if m, ok := publicErrors[code]; ok {
		return m.status, ErrorBody{Error: ErrorDetail{Code: code, Message: m.message}}
	}
	return http.StatusInternalServerError, ErrorBody{Error: ErrorDetail{
		Code:    codeInternal,
		Message: "Internal server error.",
	}}
}
