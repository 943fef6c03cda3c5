package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stage names a fatal step of a transcription run.
type Stage string

const (
	StageScratch   Stage = "scratch"
	StageNormalize Stage = "normalize"
	StageRecognize Stage = "recognize"
	StageDiarize   Stage = "diarize"
	StageSession   Stage = "session"
)

// ErrorCode is the machine-readable class of a PipelineError.
type ErrorCode string

const (
	ErrTimeout           ErrorCode = "timeout"
	ErrContextCancelled  ErrorCode = "context_cancelled"
	ErrEngineUnavailable ErrorCode = "engine_unavailable"
	ErrToolMissing       ErrorCode = "tool_missing"
	ErrParseError        ErrorCode = "parse_error"
	ErrEmptyInput        ErrorCode = "empty_input"
	ErrStorage           ErrorCode = "storage_error"
	ErrProcessingError   ErrorCode = "processing_error"
)

// PipelineError describes why a run produced no transcript.
type PipelineError struct {
	Code    ErrorCode
	Stage   Stage
	Message string
	// Duration and Timeout are set for ErrTimeout when the limit is known.
	Duration time.Duration
	Timeout  time.Duration
	Cause    error
}

func (e *PipelineError) Error() string {
	switch {
	case e.Code == ErrTimeout && e.Timeout > 0:
		return fmt.Sprintf("%s: %s timed out after %s (limit: %s)",
			e.Code, e.Stage, e.Duration.Truncate(time.Millisecond), e.Timeout)
	case e.Stage == "":
		return string(e.Code) + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// rule maps a lower-cased error message, seen at a stage, to a code.
type rule struct {
	code  ErrorCode
	match func(msg string, stage Stage) bool
}

func containsAny(subs ...string) func(string, Stage) bool {
	return func(msg string, _ Stage) bool {
		for _, s := range subs {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}
}

// Rules are tried in order; the first match wins.
var rules = []rule{
	{ErrToolMissing, containsAny("executable file not found")},
	{ErrToolMissing, func(msg string, stage Stage) bool {
		return stage == StageNormalize && strings.Contains(msg, "no such file or directory")
	}},
	{ErrEngineUnavailable, containsAny("connection refused", "no such host", "service unavailable", "503")},
	{ErrParseError, containsAny("parsing", "invalid character", "unexpected end of json")},
	{ErrStorage, func(_ string, stage Stage) bool {
		return stage == StageScratch || stage == StageSession
	}},
}

// ClassifyError wraps err as a *PipelineError attributed to stage. An err
// that already carries a *PipelineError yields that error unchanged.
func ClassifyError(err error, stage Stage) *PipelineError {
	if err == nil {
		return nil
	}
	if pe, ok := asPipelineError(err); ok {
		return pe
	}

	pe := &PipelineError{Stage: stage, Cause: err, Message: err.Error()}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		pe.Code, pe.Message = ErrTimeout, "operation timed out"
	case errors.Is(err, context.Canceled):
		pe.Code, pe.Message = ErrContextCancelled, "operation cancelled"
	case errors.Is(err, ErrEmptyAudio):
		pe.Code = ErrEmptyInput
	default:
		pe.Code = ErrProcessingError
		lower := strings.ToLower(pe.Message)
		for _, r := range rules {
			if r.match(lower, stage) {
				pe.Code = r.code
				break
			}
		}
	}
	return pe
}

func asPipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	ok := errors.As(err, &pe)
	return pe, ok
}

// IsTimeout reports whether err carries an ErrTimeout PipelineError.
func IsTimeout(err error) bool {
	pe, ok := asPipelineError(err)
	return ok && pe.Code == ErrTimeout
}

// StageOf returns the stage of the PipelineError in err's chain, or "".
func StageOf(err error) Stage {
	if pe, ok := asPipelineError(err); ok {
		return pe.Stage
	}
	return ""
}

// IsErrorRetryable reports whether err's code is marked retryable in the
// registry. Errors without a PipelineError are not.
func IsErrorRetryable(err error) bool {
	pe, ok := asPipelineError(err)
	if !ok {
		return false
	}
	info, known := ErrorCodeRegistry[pe.Code]
	return known && info.Retryable
}
