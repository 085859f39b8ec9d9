package types

import (
	"errors"
	"testing"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     AgentRunRequest
		wantErr bool
	}{
		{
			name: "valid react request",
			req:  AgentRunRequest{Message: "hello", Mode: ModeReact},
		},
		{
			name: "valid ralph request with overrides",
			req:  AgentRunRequest{Message: "fix it", Mode: ModeRalphCLI, RalphMaxIterations: 5, PromiseToken: "<<DONE>>"},
		},
		{
			name:    "empty message",
			req:     AgentRunRequest{Mode: ModeReact},
			wantErr: true,
		},
		{
			name:    "unknown mode",
			req:     AgentRunRequest{Message: "hello", Mode: RunMode("turbo")},
			wantErr: true,
		},
		{
			name:    "negative ralph cap",
			req:     AgentRunRequest{Message: "hello", Mode: ModeRalphInternal, RalphMaxIterations: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Errorf("err = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRunModeIsValid(t *testing.T) {
	for _, m := range []RunMode{ModeReact, ModeRalphInternal, ModeRalphCLI, ModeCLI} {
		if !m.IsValid() {
			t.Errorf("%s should be valid", m)
		}
	}
	if RunMode("").IsValid() {
		t.Error("empty mode should be invalid")
	}
}
