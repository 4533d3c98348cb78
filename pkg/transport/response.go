package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
)

// Response is a successful backend reply. Body is the raw payload; Data is
// the `data` member when the backend used the {success, data, error}
// envelope and the whole body otherwise.
type Response struct {
	Status int
	Body   json.RawMessage
	Data   json.RawMessage
}

// Decode unmarshals Data into dst.
func (r *Response) Decode(dst any) error {
	if r == nil || len(r.Data) == 0 || string(r.Data) == "null" {
		return pkgerrors.New(pkgerrors.CodeDependency, "empty response from backend")
	}
	if err := json.Unmarshal(r.Data, dst); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode backend response")
	}
	return nil
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

func parseResponse(status int, contentType string, raw []byte) (*Response, error) {
	if status == http.StatusNoContent {
		return &Response{Status: status}, nil
	}

	var env envelope
	isJSON := json.Unmarshal(raw, &env) == nil
	if !isJSON {
		// Arrays and scalars are still JSON; only the envelope check failed.
		isJSON = json.Valid(raw)
	}

	if status >= 500 {
		return nil, pkgerrors.New(pkgerrors.CodeTransient, upstreamMessage(status, env)).
			WithDetails(pkgerrors.UpstreamDetails{Status: status, Body: excerpt(raw)})
	}
	if status >= 400 {
		return nil, pkgerrors.New(pkgerrors.CodeRejected, upstreamMessage(status, env)).
			WithDetails(pkgerrors.UpstreamDetails{Status: status, Body: excerpt(raw)})
	}
	if !isJSON {
		return nil, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("expected JSON response, got %q", contentType)).
			WithDetails(pkgerrors.UpstreamDetails{Status: status, Body: excerpt(raw)})
	}
	if env.Success != nil && !*env.Success {
		return nil, pkgerrors.New(pkgerrors.CodeRejected, upstreamMessage(status, env)).
			WithDetails(pkgerrors.UpstreamDetails{Status: status, Body: excerpt(raw)})
	}

	resp := &Response{Status: status, Body: raw, Data: raw}
	if env.Success != nil && len(env.Data) > 0 {
		resp.Data = env.Data
	}
	return resp, nil
}

func upstreamMessage(status int, env envelope) string {
	if msg := errorText(env.Error); msg != "" {
		return msg
	}
	if strings.TrimSpace(env.Message) != "" {
		return env.Message
	}
	return fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))
}

// errorText accepts both `"error": "text"` and `"error": {"message": "text"}`.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var obj struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return strings.TrimSpace(obj.Message)
		}
		return strings.TrimSpace(obj.Code)
	}
	return ""
}

func excerpt(raw []byte) string {
	if len(raw) <= upstreamBodyExcerpt {
		return string(raw)
	}
	return string(raw[:upstreamBodyExcerpt])
}
