// Package errors holds the error vocabulary shared across turnscribe.
//
// Domain conditions are sentinels matched with errors.Is. A run that fails
// outright reports a *PipelineError naming the stage and a classified code,
// which the CLI and HTTP server render through ErrorCodeRegistry.
//
// Import it under an alias to keep the standard package reachable:
//
//	import tserrors "github.com/otherjamesbrown/turnscribe/pkg/errors"
package errors

import "errors"

var (
	// ErrNotFound: no session or resource by that name.
	ErrNotFound = errors.New("not found")
	// ErrValidation: bad input or configuration.
	ErrValidation = errors.New("validation error")
	// ErrAlreadyExists: the name is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidState: the operation does not fit the current state, such as
	// using an engine after Close.
	ErrInvalidState = errors.New("invalid state")
	// ErrEmptyAudio: the recording has no bytes.
	ErrEmptyAudio = errors.New("empty audio")
	// ErrUnknownBackend: no engine backend registered under the name.
	ErrUnknownBackend = errors.New("unknown backend")
)

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsValidation(err error) bool    { return errors.Is(err, ErrValidation) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }
func IsInvalidState(err error) bool  { return errors.Is(err, ErrInvalidState) }
func IsEmptyAudio(err error) bool    { return errors.Is(err, ErrEmptyAudio) }
