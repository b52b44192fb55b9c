// Package test provides fakes shared by the handler tests
package test

import (
	"context"

	"github.com/wrale/phantom/internal/deviceflow"
)

// MockFlow stands in for *deviceflow.Flow in handler tests. Unset functions
// return zero values.
type MockFlow struct {
	IssueFunc       func(ctx context.Context, clientID, scope string) (*deviceflow.DeviceCodeResponse, error)
	PollFunc        func(ctx context.Context, deviceCode, clientID string) (*deviceflow.TokenResponse, error)
	LookupFunc      func(ctx context.Context, userCode string) (*deviceflow.DeviceAuthorization, error)
	ApproveFunc     func(ctx context.Context, userCode, userID string) (*deviceflow.DeviceAuthorization, error)
	DenyFunc        func(ctx context.Context, userCode, userID string) (*deviceflow.DeviceAuthorization, error)
	CheckHealthFunc func(ctx context.Context) error
}

func (m *MockFlow) Issue(ctx context.Context, clientID, scope string) (*deviceflow.DeviceCodeResponse, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(ctx, clientID, scope)
	}
	return nil, nil
}

func (m *MockFlow) Poll(ctx context.Context, deviceCode, clientID string) (*deviceflow.TokenResponse, error) {
	if m.PollFunc != nil {
		return m.PollFunc(ctx, deviceCode, clientID)
	}
	return nil, nil
}

func (m *MockFlow) Lookup(ctx context.Context, userCode string) (*deviceflow.DeviceAuthorization, error) {
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, userCode)
	}
	return nil, nil
}

func (m *MockFlow) Approve(ctx context.Context, userCode, userID string) (*deviceflow.DeviceAuthorization, error) {
	if m.ApproveFunc != nil {
		return m.ApproveFunc(ctx, userCode, userID)
	}
	return nil, nil
}

func (m *MockFlow) Deny(ctx context.Context, userCode, userID string) (*deviceflow.DeviceAuthorization, error) {
	if m.DenyFunc != nil {
		return m.DenyFunc(ctx, userCode, userID)
	}
	return nil, nil
}

func (m *MockFlow) CheckHealth(ctx context.Context) error {
	if m.CheckHealthFunc != nil {
		return m.CheckHealthFunc(ctx)
	}
	return nil
}
