package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// APIError is the normalized form of every failed backend call. StatusCode is 0
// when no response was received.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Code       string
	Message    string
	Body       []byte
	Network    bool
	Err        error
}

func (e *APIError) Error() string {
	if e.Network {
		return fmt.Sprintf("%s %s: network error: %v", e.Method, e.Path, e.Err)
	}
	msg := e.Message
	if msg == "" {
		msg = strings.TrimSpace(string(e.Body))
	}
	if e.Code != "" {
		return fmt.Sprintf("%s %s: status %d (%s): %s", e.Method, e.Path, e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// AsAPIError extracts an *APIError from an error chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// StatusCode returns the HTTP status carried by err, or -1 when err is not an API error.
func StatusCode(err error) int {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.StatusCode
	}
	return -1
}

// parseErrorBody understands the payload shapes the backend produces:
//
//	{"detail": "text"}
//	{"detail": {"code": "...", "message": "..."}}
//	{"detail": [{"msg": "...", "loc": [...]}]}
//	{"error_code": "...", "message": "..."}
func parseErrorBody(body []byte) (code, message string) {
	var payload struct {
		Detail    json.RawMessage `json:"detail"`
		Code      string          `json:"code"`
		ErrorCode string          `json:"error_code"`
		Message   string          `json:"message"`
		Error     string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}

	code = payload.ErrorCode
	if code == "" {
		code = payload.Code
	}
	message = payload.Message
	if message == "" {
		message = payload.Error
	}

	if len(payload.Detail) == 0 {
		return code, message
	}

	var text string
	if err := json.Unmarshal(payload.Detail, &text); err == nil {
		if message == "" {
			message = text
		}
		return code, message
	}

	var obj struct {
		Code      string `json:"code"`
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(payload.Detail, &obj); err == nil && (obj.Code != "" || obj.ErrorCode != "" || obj.Message != "") {
		if code == "" {
			code = obj.Code
		}
		if code == "" {
			code = obj.ErrorCode
		}
		if message == "" {
			message = obj.Message
		}
		return code, message
	}

	var list []struct {
		Msg string `json:"msg"`
		Loc []any  `json:"loc"`
	}
	if err := json.Unmarshal(payload.Detail, &list); err == nil && len(list) > 0 && message == "" {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if len(item.Loc) > 0 {
				parts = append(parts, fmt.Sprintf("%v: %s", item.Loc[len(item.Loc)-1], item.Msg))
			} else {
				parts = append(parts, item.Msg)
			}
		}
		message = strings.Join(parts, "; ")
	}
	return code, message
}
