package token

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/wrale/phantom/cmd/phantom-server/handlers/common/test"
	"github.com/wrale/phantom/internal/deviceflow"
)

func TestTokenHandler(t *testing.T) {
	granted := &deviceflow.TokenResponse{
		AccessToken: "jwt",
		TokenType:   "Bearer",
		ExpiresIn:   86400,
		Scope:       "openid",
	}
	valid := url.Values{
		"grant_type":  {deviceflow.GrantTypeDeviceCode},
		"device_code": {"dc-1"},
		"client_id":   {"cli"},
	}
	without := func(key string) string {
		v := url.Values{}
		for k, vs := range valid {
			if k != key {
				v[k] = vs
			}
		}
		return v.Encode()
	}

	tests := []struct {
		name          string
		body          string
		contentType   string
		pollErr       error
		wantStatus    int
		wantErrorCode string
	}{
		{name: "granted", body: valid.Encode(), wantStatus: http.StatusOK},
		{
			name:        "granted via json",
			contentType: "application/json",
			body:        `{"grant_type":"urn:ietf:params:oauth:grant-type:device_code","device_code":"dc-1","client_id":"cli"}`,
			wantStatus:  http.StatusOK,
		},
		{name: "missing grant_type", body: without("grant_type"), wantStatus: http.StatusBadRequest, wantErrorCode: "invalid_request"},
		{name: "missing device_code", body: without("device_code"), wantStatus: http.StatusBadRequest, wantErrorCode: "invalid_request"},
		{name: "missing client_id", body: without("client_id"), wantStatus: http.StatusBadRequest, wantErrorCode: "invalid_request"},
		{
			name:          "unsupported grant",
			body:          "grant_type=authorization_code&device_code=dc-1&client_id=cli",
			wantStatus:    http.StatusBadRequest,
			wantErrorCode: "unsupported_grant_type",
		},
		{name: "pending", body: valid.Encode(), pollErr: deviceflow.ErrAuthorizationPending, wantStatus: http.StatusBadRequest, wantErrorCode: "authorization_pending"},
		{name: "slow down", body: valid.Encode(), pollErr: deviceflow.ErrSlowDown, wantStatus: http.StatusBadRequest, wantErrorCode: "slow_down"},
		{name: "denied", body: valid.Encode(), pollErr: deviceflow.ErrAccessDenied, wantStatus: http.StatusBadRequest, wantErrorCode: "access_denied"},
		{name: "expired", body: valid.Encode(), pollErr: deviceflow.ErrExpiredToken, wantStatus: http.StatusBadRequest, wantErrorCode: "expired_token"},
		{name: "unknown code", body: valid.Encode(), pollErr: deviceflow.ErrInvalidGrant, wantStatus: http.StatusBadRequest, wantErrorCode: "invalid_grant"},
		{name: "internal error", body: valid.Encode(), pollErr: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantErrorCode: "server_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := &test.MockFlow{
				PollFunc: func(_ context.Context, deviceCode, clientID string) (*deviceflow.TokenResponse, error) {
					if deviceCode != "dc-1" || clientID != "cli" {
						t.Errorf("Poll(%q, %q)", deviceCode, clientID)
					}
					if tt.pollErr != nil {
						return nil, tt.pollErr
					}
					return granted, nil
				},
			}

			req := httptest.NewRequest(http.MethodPost, "/device/token", strings.NewReader(tt.body))
			contentType := tt.contentType
			if contentType == "" {
				contentType = "application/x-www-form-urlencoded"
			}
			req.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()

			New(flow).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if w.Header().Get("Cache-Control") != "no-store" {
				t.Error("missing Cache-Control: no-store header")
			}

			var resp map[string]any
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if tt.wantErrorCode != "" {
				if resp["error"] != tt.wantErrorCode {
					t.Errorf("error = %v, want %q", resp["error"], tt.wantErrorCode)
				}
				if _, ok := resp["access_token"]; ok {
					t.Error("error response carries an access token")
				}
				return
			}
			if resp["access_token"] != "jwt" || resp["token_type"] != "Bearer" || resp["expires_in"] != float64(86400) {
				t.Errorf("unexpected token response %v", resp)
			}
		})
	}
}
