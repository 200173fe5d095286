package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tOgg1/omega/internal/loop"
	"github.com/tOgg1/omega/internal/models"
	"github.com/tOgg1/omega/internal/orchestrator"
	"github.com/tOgg1/omega/internal/resilience"
)

// ErrorEnvelope is the JSON/JSONL error response shape.
type ErrorEnvelope struct {
	Error ErrorPayload `json:"error"`
}

// ErrorPayload carries structured error details.
type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ExitError carries an exit code and whether output was already printed.
type ExitError struct {
	Code    int
	Err     error
	Printed bool
}

func (e *ExitError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func handleCLIError(err error) error {
	if err == nil {
		return nil
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Printed {
			return exitErr
		}
		if exitErr.Err != nil {
			err = exitErr.Err
		}
	}

	exitCode := exitCodeFromError(err)
	if exitErr != nil && exitErr.Code != 0 {
		exitCode = exitErr.Code
	}

	if IsJSONOutput() || IsJSONLOutput() {
		_ = WriteOutput(os.Stdout, buildErrorEnvelope(err))
	} else {
		fmt.Fprintln(os.Stderr, err.Error())
	}

	return &ExitError{
		Code:    exitCode,
		Err:     err,
		Printed: true,
	}
}

func buildErrorEnvelope(err error) ErrorEnvelope {
	code, message, hint, details, _ := classifyError(err)
	return ErrorEnvelope{
		Error: ErrorPayload{
			Code:    code,
			Message: message,
			Hint:    hint,
			Details: details,
		},
	}
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	_, _, _, _, code := classifyError(err)
	return code
}

func classifyError(err error) (code, message, hint string, details map[string]any, exitCode int) {
	exitCode = 1
	if err == nil {
		return "ERR_UNKNOWN", "", "", nil, exitCode
	}
	message = err.Error()

	var (
		open      *resilience.CircuitOpenError
		unhealthy *orchestrator.SubsystemUnhealthyError
	)
	switch {
	case errors.As(err, &open):
		details = map[string]any{"breaker": open.Breaker}
		if open.RetryAfter > 0 {
			details["retry_after"] = open.RetryAfter.String()
		}
		return "ERR_CIRCUIT_OPEN", message, "Wait for the breaker cooldown and retry.", details, 2
	case errors.As(err, &unhealthy):
		details = map[string]any{"subsystem": unhealthy.Subsystem, "status": string(unhealthy.Status)}
		return "ERR_UNHEALTHY", message, "Run `omega health` to inspect subsystems.", details, 2
	case errors.Is(err, loop.ErrCycleTimeout):
		return "ERR_TIMEOUT", message, "Raise loops.cycle_timeout or pass a longer --timeout.", nil, 2
	case errors.Is(err, resilience.ErrRetriesExhausted):
		return "ERR_OPERATION_FAILED", message, "", nil, 2
	case errors.Is(err, loop.ErrLoopNotFound), errors.Is(err, models.ErrInvalidLoopType):
		return "ERR_NOT_FOUND", message, "Run `omega loops` to see loop types.", map[string]any{"resource": "loop"}, 1
	case errors.Is(err, loop.ErrLoopNotRunning), errors.Is(err, orchestrator.ErrNotServing):
		return "ERR_NOT_RUNNING", message, "", nil, 1
	}

	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "not found"):
		code = "ERR_NOT_FOUND"
	case strings.Contains(lower, "already exists"):
		code = "ERR_EXISTS"
	case strings.Contains(lower, "unknown flag"):
		code = "ERR_INVALID_FLAG"
	case strings.Contains(lower, "invalid") || strings.Contains(lower, "required") || strings.Contains(lower, "usage") || strings.Contains(lower, "must"):
		code = "ERR_INVALID"
	case strings.Contains(lower, "failed to") || strings.Contains(lower, "unable to"):
		code = "ERR_OPERATION_FAILED"
		exitCode = 2
	default:
		code = "ERR_UNKNOWN"
	}
	return code, message, hint, details, exitCode
}
