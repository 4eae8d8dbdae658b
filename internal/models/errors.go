package models

import (
	"errors"
	"fmt"
	"strings"
)

type FailureKind string

const (
	KindInputMissing        FailureKind = "input_missing"
	KindExternalToolFailure FailureKind = "external_tool_failure"
	KindLayoutInvalid       FailureKind = "layout_invalid"
	KindNoUsableArtifacts   FailureKind = "no_usable_artifacts"
	KindNameResolution      FailureKind = "name_resolution_failure"
	KindInternal            FailureKind = "internal"
)

func (k FailureKind) String() string {
	return string(k)
}

var (
	ErrInputMissing        = errors.New("input missing")
	ErrExternalToolFailure = errors.New("external tool failure")
	ErrLayoutInvalid       = errors.New("layout invalid")
	ErrNoUsableArtifacts   = errors.New("no usable scan artifacts")
	ErrNameResolution      = errors.New("student names could not be resolved")

	ErrQuestionSetMissing = fmt.Errorf("%w: question set not found", ErrInputMissing)
	ErrInvalidQuestionSet = fmt.Errorf("%w: invalid question set", ErrInputMissing)
	ErrRosterMissing      = fmt.Errorf("%w: roster not found", ErrInputMissing)
	ErrRosterEmpty        = fmt.Errorf("%w: roster is empty", ErrInputMissing)
	ErrInvalidRoster      = fmt.Errorf("%w: invalid roster", ErrInputMissing)
	ErrNoArtifactsFound   = fmt.Errorf("%w: no scan artifacts found", ErrInputMissing)
	ErrAnswerKeyMissing   = fmt.Errorf("%w: answer key is empty", ErrInputMissing)
)

// StageError is the failure of one pipeline stage.
type StageError struct {
	Stage    Stage
	Kind     FailureKind
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *StageError) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString(string(e.Stage))
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.Command != "" {
		fmt.Fprintf(&b, " (command %q exited %d)", e.Command, e.ExitCode)
	}
	return b.String()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewToolFailure describes an external command that exited unsuccessfully.
func NewToolFailure(command string, exitCode int, stdout, stderr string) *StageError {
	return &StageError{
		Kind:     KindExternalToolFailure,
		Command:  command,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Err:      ErrExternalToolFailure,
	}
}

// NewInvokeFailure describes an external command that could not be run at all.
func NewInvokeFailure(err error) *StageError {
	return &StageError{
		Kind: KindExternalToolFailure,
		Err:  fmt.Errorf("%w: %v", ErrExternalToolFailure, err),
	}
}

// KindOf classifies err into a failure kind.
func KindOf(err error) FailureKind {
	var se *StageError
	if errors.As(err, &se) && se.Kind != "" {
		return se.Kind
	}
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInputMissing):
		return KindInputMissing
	case errors.Is(err, ErrExternalToolFailure):
		return KindExternalToolFailure
	case errors.Is(err, ErrLayoutInvalid):
		return KindLayoutInvalid
	case errors.Is(err, ErrNoUsableArtifacts):
		return KindNoUsableArtifacts
	case errors.Is(err, ErrNameResolution):
		return KindNameResolution
	default:
		return KindInternal
	}
}
