package cli

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tOgg1/omega/internal/loop"
	"github.com/tOgg1/omega/internal/models"
	"github.com/tOgg1/omega/internal/orchestrator"
	"github.com/tOgg1/omega/internal/resilience"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     string
		exitCode int
	}{
		{"not found", fmt.Errorf("execute: %w", loop.ErrLoopNotFound), "ERR_NOT_FOUND", 1},
		{"bad loop type", fmt.Errorf("parse: %w", models.ErrInvalidLoopType), "ERR_NOT_FOUND", 1},
		{"not running", fmt.Errorf("loop x: %w", loop.ErrLoopNotRunning), "ERR_NOT_RUNNING", 1},
		{"not serving", orchestrator.ErrNotServing, "ERR_NOT_RUNNING", 1},
		{"timeout", fmt.Errorf("cycle: %w", loop.ErrCycleTimeout), "ERR_TIMEOUT", 2},
		{"circuit open", &resilience.CircuitOpenError{Breaker: "loop.reactive", RetryAfter: time.Second}, "ERR_CIRCUIT_OPEN", 2},
		{"unhealthy", &orchestrator.SubsystemUnhealthyError{Subsystem: "database", Status: models.HealthUnhealthy}, "ERR_UNHEALTHY", 2},
		{"invalid flag value", errors.New("invalid --data \"x\": expected key=value"), "ERR_INVALID", 1},
		{"operation", errors.New("failed to open database"), "ERR_OPERATION_FAILED", 2},
		{"unknown", errors.New("boom"), "ERR_UNKNOWN", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, message, _, _, exitCode := classifyError(tt.err)
			if code != tt.code {
				t.Fatalf("code = %q, want %q", code, tt.code)
			}
			if exitCode != tt.exitCode {
				t.Fatalf("exit code = %d, want %d", exitCode, tt.exitCode)
			}
			if message != tt.err.Error() {
				t.Fatalf("message = %q, want %q", message, tt.err.Error())
			}
		})
	}
}

func TestClassifyErrorDetails(t *testing.T) {
	_, _, hint, details, _ := classifyError(&resilience.CircuitOpenError{Breaker: "memory", RetryAfter: 2 * time.Second})
	if hint == "" {
		t.Fatal("expected hint for open circuit")
	}
	if details["breaker"] != "memory" {
		t.Fatalf("expected breaker detail, got %v", details)
	}
	if details["retry_after"] != "2s" {
		t.Fatalf("expected retry_after 2s, got %v", details["retry_after"])
	}

	_, _, hint, _, _ = classifyError(models.ErrInvalidLoopType)
	if hint != "Run `omega loops` to see loop types." {
		t.Fatalf("unexpected hint %q", hint)
	}
}

func TestExitCodeFromError(t *testing.T) {
	if got := exitCodeFromError(nil); got != 0 {
		t.Fatalf("expected 0 for nil error, got %d", got)
	}
	if got := exitCodeFromError(loop.ErrCycleTimeout); got != 2 {
		t.Fatalf("expected 2 for timeout, got %d", got)
	}
}

func TestBuildErrorEnvelope(t *testing.T) {
	env := buildErrorEnvelope(fmt.Errorf("run: %w", loop.ErrLoopNotFound))
	if env.Error.Code != "ERR_NOT_FOUND" {
		t.Fatalf("unexpected code %q", env.Error.Code)
	}
	if env.Error.Details["resource"] != "loop" {
		t.Fatalf("expected resource detail, got %v", env.Error.Details)
	}
}
