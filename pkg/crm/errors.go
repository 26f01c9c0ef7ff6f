package crm

import (
	"bytes"
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/ajitpratap0/crmsync/pkg/errors"
	jsonpool "github.com/ajitpratap0/crmsync/pkg/json"
)

// APIError is one entry of the platform's structured error payload.
type APIError struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// bulkError is the Bulk API's XML error body.
type bulkError struct {
	XMLName          xml.Name `xml:"error"`
	ExceptionCode    string   `xml:"exceptionCode"`
	ExceptionMessage string   `xml:"exceptionMessage"`
}

// ParseAPIErrors extracts error entries from a response body.
//
// Three shapes are recognized: a bare JSON array, a JSON object with an
// "errors" array, and the Bulk API's XML <error> element. An OAuth2 token
// error ({"error": ..., "error_description": ...}) is also mapped.
func ParseAPIErrors(body []byte) []APIError {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	switch trimmed[0] {
	case '[':
		var list []APIError
		if err := jsonpool.Unmarshal(trimmed, &list); err == nil {
			return list
		}
	case '{':
		var wrapped struct {
			Errors           []APIError `json:"errors"`
			Error            string     `json:"error"`
			ErrorDescription string     `json:"error_description"`
		}
		if err := jsonpool.Unmarshal(trimmed, &wrapped); err == nil {
			if len(wrapped.Errors) > 0 {
				return wrapped.Errors
			}
			if wrapped.Error != "" {
				return []APIError{{ErrorCode: wrapped.Error, Message: wrapped.ErrorDescription}}
			}
		}
	case '<':
		var be bulkError
		if err := xml.Unmarshal(trimmed, &be); err == nil && be.ExceptionCode != "" {
			return []APIError{{ErrorCode: be.ExceptionCode, Message: be.ExceptionMessage}}
		}
	}
	return nil
}

var errorCodeTypes = map[string]errors.ErrorType{
	"REQUEST_LIMIT_EXCEEDED":    errors.ErrorTypeRateLimit,
	"FORBIDDEN":                 errors.ErrorTypeRateLimit,
	"ExceededQuota":             errors.ErrorTypeRateLimit,
	"INVALID_SESSION_ID":        errors.ErrorTypeAuthentication,
	"INVALID_AUTH_HEADER":       errors.ErrorTypeAuthentication,
	"InvalidSessionId":          errors.ErrorTypeAuthentication,
	"invalid_grant":             errors.ErrorTypeAuthentication,
	"invalid_client":            errors.ErrorTypeAuthentication,
	"invalid_client_id":         errors.ErrorTypeAuthentication,
	"INVALID_TYPE":              errors.ErrorTypeNotFound,
	"NOT_FOUND":                 errors.ErrorTypeNotFound,
	"InvalidEntity":             errors.ErrorTypeUnsupportedObject,
	"FUNCTIONALITY_NOT_ENABLED": errors.ErrorTypeUnsupportedObject,
}

// ClassifyAPIError converts a failed response into a typed error.
func ClassifyAPIError(status int, body []byte) error {
	apiErrs := ParseAPIErrors(body)

	errType := errors.ErrorTypeQuery
	found := false
	for _, e := range apiErrs {
		if t, ok := errorCodeTypes[e.ErrorCode]; ok {
			errType = t
			found = true
			break
		}
	}
	if !found {
		switch {
		case status == http.StatusUnauthorized:
			errType = errors.ErrorTypeAuthentication
		case status == http.StatusNotFound:
			errType = errors.ErrorTypeNotFound
		case status >= 500:
			errType = errors.ErrorTypeConnection
		}
	}

	msg := http.StatusText(status)
	if len(apiErrs) > 0 {
		parts := make([]string, 0, len(apiErrs))
		for _, e := range apiErrs {
			parts = append(parts, e.ErrorCode+": "+e.Message)
		}
		msg = strings.Join(parts, "; ")
	}

	err := errors.New(errType, msg).WithDetail("status", status)
	if len(apiErrs) > 0 {
		err = err.WithDetail("error_code", apiErrs[0].ErrorCode)
	}
	return err
}
