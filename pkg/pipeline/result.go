package pipeline

import (
	"errors"

	tserrors "github.com/otherjamesbrown/turnscribe/pkg/errors"
	"github.com/otherjamesbrown/turnscribe/pkg/session"
	"github.com/otherjamesbrown/turnscribe/pkg/transcript"
)

// Status is the outcome of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is the response of a run.
type Result struct {
	Status          Status            `json:"status" yaml:"status"`
	RunID           string            `json:"run_id" yaml:"run_id"`
	Session         string            `json:"session,omitempty" yaml:"session,omitempty"`
	SessionPath     string            `json:"session_path,omitempty" yaml:"session_path,omitempty"`
	Transcription   []transcript.Turn `json:"transcription" yaml:"transcription"`
	FormattedScript string            `json:"formatted_script" yaml:"formatted_script"`
	FullText        string            `json:"full_text" yaml:"full_text"`
	Error           *ErrorInfo        `json:"error,omitempty" yaml:"error,omitempty"`
}

// ErrorInfo describes a failed run.
type ErrorInfo struct {
	Code      string `json:"code" yaml:"code"`
	Stage     string `json:"stage,omitempty" yaml:"stage,omitempty"`
	Message   string `json:"message" yaml:"message"`
	Retryable bool   `json:"retryable" yaml:"retryable"`
}

// SuccessResult builds the response for a materialized session.
func SuccessResult(runID string, sess *session.Session) *Result {
	return &Result{
		Status:          StatusSuccess,
		RunID:           runID,
		Session:         sess.Name,
		SessionPath:     sess.Root,
		Transcription:   sess.Turns,
		FormattedScript: sess.FormattedScript,
		FullText:        sess.FullText,
	}
}

// ErrorResult builds the response for a failed run. It carries no turns.
func ErrorResult(runID string, err error) *Result {
	info := &ErrorInfo{Code: string(tserrors.ErrProcessingError), Message: err.Error()}

	var pe *tserrors.PipelineError
	if errors.As(err, &pe) {
		info.Code = string(pe.Code)
		info.Stage = string(pe.Stage)
		info.Retryable = tserrors.IsErrorRetryable(pe)
	}

	return &Result{
		Status:        StatusError,
		RunID:         runID,
		Transcription: []transcript.Turn{},
		Error:         info,
	}
}
