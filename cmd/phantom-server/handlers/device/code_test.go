package device

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wrale/phantom/cmd/phantom-server/handlers/common/test"
	"github.com/wrale/phantom/internal/deviceflow"
)

func TestDeviceCodeHandler(t *testing.T) {
	issued := &deviceflow.DeviceCodeResponse{
		DeviceCode:              "device-123",
		UserCode:                "BCDF-GHJK",
		VerificationURI:         "https://example.com/device",
		VerificationURIComplete: "https://example.com/device?user_code=BCDF-GHJK",
		ExpiresIn:               1800,
		Interval:                5,
	}

	tests := []struct {
		name          string
		method        string
		contentType   string
		body          string
		mockError     error
		wantStatus    int
		wantErrorCode string
		wantErrorDesc string
	}{
		{
			name:          "wrong method",
			method:        http.MethodGet,
			wantStatus:    http.StatusMethodNotAllowed,
			wantErrorCode: "invalid_request",
			wantErrorDesc: "POST method required",
		},
		{
			name:          "missing client_id",
			method:        http.MethodPost,
			body:          url.Values{"scope": {"openid"}}.Encode(),
			wantStatus:    http.StatusBadRequest,
			wantErrorCode: "invalid_request",
			wantErrorDesc: "The client_id parameter is REQUIRED",
		},
		{
			name:          "duplicate parameter",
			method:        http.MethodPost,
			body:          "client_id=test&client_id=test",
			wantStatus:    http.StatusBadRequest,
			wantErrorCode: "invalid_request",
			wantErrorDesc: "Parameters MUST NOT be included more than once: client_id",
		},
		{
			name:       "successful form request",
			method:     http.MethodPost,
			body:       url.Values{"client_id": {"test-client"}, "scope": {"openid"}}.Encode(),
			wantStatus: http.StatusCreated,
		},
		{
			name:        "successful json request",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{"client_id":"test-client","scope":"openid"}`,
			wantStatus:  http.StatusCreated,
		},
		{
			name:          "unknown client",
			method:        http.MethodPost,
			body:          "client_id=intruder",
			mockError:     deviceflow.ErrInvalidClient,
			wantStatus:    http.StatusBadRequest,
			wantErrorCode: "invalid_client",
			wantErrorDesc: "The client is not allowed to use the device flow",
		},
		{
			name:          "store failure",
			method:        http.MethodPost,
			body:          "client_id=test-client",
			mockError:     errors.New("redis down"),
			wantStatus:    http.StatusInternalServerError,
			wantErrorCode: "server_error",
			wantErrorDesc: "An unexpected error occurred processing the request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotClient, gotScope string
			flow := &test.MockFlow{
				IssueFunc: func(_ context.Context, clientID, scope string) (*deviceflow.DeviceCodeResponse, error) {
					gotClient, gotScope = clientID, scope
					if tt.mockError != nil {
						return nil, tt.mockError
					}
					return issued, nil
				},
			}

			req := httptest.NewRequest(tt.method, "/device/code", strings.NewReader(tt.body))
			contentType := tt.contentType
			if contentType == "" {
				contentType = "application/x-www-form-urlencoded"
			}
			req.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()

			New(flow).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantStatus)
			}
			if w.Header().Get("Cache-Control") != "no-store" {
				t.Error("missing Cache-Control: no-store header")
			}
			if w.Header().Get("Content-Type") != "application/json" {
				t.Error("missing Content-Type: application/json header")
			}

			if tt.wantErrorCode != "" {
				var resp map[string]string
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if got := resp["error"]; got != tt.wantErrorCode {
					t.Errorf("error code = %q, want %q", got, tt.wantErrorCode)
				}
				if got := resp["error_description"]; got != tt.wantErrorDesc {
					t.Errorf("error description = %q, want %q", got, tt.wantErrorDesc)
				}
				return
			}

			if gotClient != "test-client" || gotScope != "openid" {
				t.Errorf("Issue() called with client %q scope %q", gotClient, gotScope)
			}
			var resp deviceflow.DeviceCodeResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if diff := cmp.Diff(*issued, resp); diff != "" {
				t.Errorf("response mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
