package common

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
)

// maxBodyBytes caps request bodies on the JSON and form endpoints
const maxBodyBytes = 64 << 10

// ParamError describes a request whose parameters could not be read
type ParamError struct {
	Description string
}

func (e *ParamError) Error() string { return e.Description }

// IsJSON reports whether the request body is JSON
func IsJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// ParseParams reads a flat parameter set from a form or JSON body. Parameters
// may appear only once per RFC 8628 section 3.1.
func ParseParams(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if IsJSON(r) {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, &ParamError{Description: "Invalid JSON body"}
		}
		values := url.Values{}
		for k, v := range raw {
			s, ok := v.(string)
			if !ok {
				return nil, &ParamError{Description: "Parameter " + k + " must be a string"}
			}
			values.Set(k, s)
		}
		return values, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, &ParamError{Description: "Invalid request format"}
	}
	for key, values := range r.PostForm {
		if len(values) > 1 {
			return nil, &ParamError{Description: "Parameters MUST NOT be included more than once: " + key}
		}
	}
	return r.PostForm, nil
}
