package extension

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/venue/internal/platform/errors"
)

// ClientRequest is a validated client call.
type ClientRequest struct {
	Extension string
	Method    string
	Args      []any
}

// ParseClientRequest validates the client payload shape
// {extensionName: string, methodName: string, args: array}. Missing args
// mean no arguments; unknown fields are ignored.
func ParseClientRequest(payload []byte) (ClientRequest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return ClientRequest{}, invalidRequest("payload must be a JSON object")
	}
	ext, err := requiredString(fields, "extensionName")
	if err != nil {
		return ClientRequest{}, err
	}
	method, err := requiredString(fields, "methodName")
	if err != nil {
		return ClientRequest{}, err
	}
	args := []any{}
	if raw, ok := fields["args"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return ClientRequest{}, invalidRequest("args must be an array")
		}
	}
	return ClientRequest{Extension: ext, Method: method, Args: args}, nil
}

func requiredString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", invalidRequest(key + " is required")
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", invalidRequest(key + " must be a string")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", invalidRequest(key + " is required")
	}
	return value, nil
}

func invalidRequest(message string) *apperrors.Error {
	return apperrors.New(apperrors.CodeInvalidRequest, message)
}

// ClientError is the failure half of a ClientResponse.
type ClientError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// ClientResponse answers every client and external call; failures are
// carried in Error rather than in the transport status.
type ClientResponse struct {
	OK     bool         `json:"ok"`
	Result any          `json:"result,omitempty"`
	Error  *ClientError `json:"error,omitempty"`
}

// Success wraps a result.
func Success(result any) ClientResponse {
	return ClientResponse{OK: true, Result: result}
}

// Failure renders err for an untrusted caller. Messages of extension-logic
// and unknown failures are replaced with a generic one.
func Failure(err error) ClientResponse {
	code := apperrors.CodeOf(err)
	if code == "" {
		code = apperrors.CodeUnknown
	}
	out := &ClientError{Code: string(code), Message: "request failed"}
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		if code.ClientVisible() {
			out.Message = domainErr.Message
		}
		out.Hint = domainErr.Metadata["hint"]
	}
	return ClientResponse{Error: out}
}

func respond(result any, err error) ClientResponse {
	if err != nil {
		return Failure(err)
	}
	return Success(result)
}

// String renders the response for logs.
func (r ClientResponse) String() string {
	if r.OK {
		return "ok"
	}
	if r.Error == nil {
		return "failed"
	}
	return fmt.Sprintf("%s: %s", r.Error.Code, r.Error.Message)
}
