// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"strings"
	"testing"
)

func TestActionableError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ActionableError
		expected string
	}{
		{
			name:     "operation only",
			err:      &ActionableError{Operation: "check for updates"},
			expected: "failed to check for updates",
		},
		{
			name:     "operation with resource",
			err:      &ActionableError{Operation: "load package index", Resource: "bo4_xmodel.wni"},
			expected: "failed to load package index: bo4_xmodel.wni",
		},
		{
			name:     "operation with cause",
			err:      &ActionableError{Operation: "download update", Cause: errors.New("connection reset")},
			expected: "failed to download update: connection reset",
		},
		{
			name: "full context",
			err: &ActionableError{
				Operation: "extract update",
				Resource:  "Update.zip",
				Cause:     errors.New("disk full"),
			},
			expected: "failed to extract update: Update.zip: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestActionableError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ActionableError{Operation: "test", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if (&ActionableError{Operation: "test"}).Unwrap() != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestActionableError_Format(t *testing.T) {
	tests := []struct {
		name     string
		err      *ActionableError
		verbose  bool
		contains []string
		excludes []string
	}{
		{
			name: "suggestions are bulleted",
			err: &ActionableError{
				Operation:   "load configuration",
				Resource:    "config.cue",
				Suggestions: []string{"Run 'hound-updater config init'", "Check file permissions"},
			},
			contains: []string{
				"failed to load configuration: config.cue",
				"• Run 'hound-updater config init'",
				"• Check file permissions",
			},
		},
		{
			name:     "no error chain in non-verbose",
			err:      &ActionableError{Operation: "parse config", Cause: errors.New("syntax error")},
			contains: []string{"failed to parse config: syntax error"},
			excludes: []string{"Error chain:"},
		},
		{
			name: "nested error chain verbose",
			err: &ActionableError{
				Operation: "apply update",
				Cause: &ActionableError{
					Operation: "download asset",
					Cause:     errors.New("timeout"),
				},
			},
			verbose: true,
			contains: []string{
				"Error chain:",
				"1. failed to download asset: timeout",
				"2. timeout",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Format(tt.verbose)
			for _, s := range tt.contains {
				if !strings.Contains(got, s) {
					t.Errorf("Format() missing %q\ngot:\n%s", s, got)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(got, s) {
					t.Errorf("Format() should not contain %q\ngot:\n%s", s, got)
				}
			}
		})
	}
}

func TestErrorContext_Build(t *testing.T) {
	cause := errors.New("403 rate limited")
	err := NewErrorContext().
		WithOperation("list releases").
		WithResource("Scobalula/Greyhound").
		WithSuggestion("Wait and retry").
		WithSuggestions("Set GITHUB_TOKEN", "Use a proxy").
		WithIssue(RateLimitedId).
		Wrap(cause).
		Build()

	if err == nil {
		t.Fatal("Build() returned nil")
	}
	if err.Operation != "list releases" || err.Resource != "Scobalula/Greyhound" {
		t.Errorf("unexpected operation/resource: %q %q", err.Operation, err.Resource)
	}
	if len(err.Suggestions) != 3 {
		t.Errorf("Suggestions count = %d, want 3", len(err.Suggestions))
	}
	if err.Issue != RateLimitedId {
		t.Errorf("Issue = %d, want %d", err.Issue, RateLimitedId)
	}
	if !errors.Is(err, cause) {
		t.Error("Build() should keep the cause")
	}
}

func TestErrorContext_MissingOperation(t *testing.T) {
	ctx := NewErrorContext().WithResource("some/path")
	if ctx.Build() != nil {
		t.Error("Build() should return nil without an operation")
	}
	if ctx.BuildError() != nil {
		t.Error("BuildError() should return a nil interface without an operation")
	}
}

func TestErrorContext_BuildError(t *testing.T) {
	err := NewErrorContext().WithOperation("test").BuildError()

	var ae *ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("BuildError() = %T, want *ActionableError", err)
	}
}

func TestErrorContext_Reuse(t *testing.T) {
	ctx := NewErrorContext().
		WithOperation("process file").
		WithSuggestion("Check file format")

	err1 := ctx.Wrap(errors.New("error 1")).Build()
	err2 := ctx.WithSuggestion("Extra").Wrap(errors.New("error 2")).Build()

	if err1.Cause.Error() == err2.Cause.Error() {
		t.Error("reused context should allow different causes")
	}
	if len(err1.Suggestions) != 1 {
		t.Errorf("earlier build was mutated: %v", err1.Suggestions)
	}
	if len(err2.Suggestions) != 2 {
		t.Errorf("Suggestions = %v, want 2 entries", err2.Suggestions)
	}
}

func TestWrapHelpers(t *testing.T) {
	cause := errors.New("original error")

	op := WrapWithOperation(cause, "process file")
	if op == nil || op.Operation != "process file" || !errors.Is(op, cause) {
		t.Errorf("WrapWithOperation() = %+v", op)
	}

	withRes := WrapWithContext(cause, "load file", "/path/to/file")
	if withRes == nil || withRes.Resource != "/path/to/file" {
		t.Errorf("WrapWithContext() = %+v", withRes)
	}

	if WrapWithOperation(nil, "x") != nil || WrapWithContext(nil, "x", "y") != nil {
		t.Error("wrapping nil should return nil")
	}

	if got := NewActionableError("test"); got.Operation != "test" || got.Cause != nil {
		t.Errorf("NewActionableError() = %+v", got)
	}
}
