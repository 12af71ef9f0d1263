package main

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies fatal pipeline failures. Each kind maps to its own
// process exit code so cron wrappers can tell a missing draft apart from a
// failed publish.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindNotFound      ErrorKind = "not_found"
	KindIllustration  ErrorKind = "illustration"
	KindPublish       ErrorKind = "publish"
	KindVerification  ErrorKind = "verification_gate"
)

// exitCodes maps error kinds to process exit codes. 1 is reserved for
// unclassified errors.
var exitCodes = map[ErrorKind]int{
	KindConfiguration: 2,
	KindNotFound:      3,
	KindIllustration:  4,
	KindPublish:       5,
	KindVerification:  6,
}

// PipelineError is the single structured error surfaced when a run stops:
// kind, the step at which it occurred, and the cause.
type PipelineError struct {
	Kind ErrorKind
	Step string
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s error at %s: %v", e.Kind, e.Step, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// ExitCode returns the process exit code for the error kind.
func (e *PipelineError) ExitCode() int {
	if code, ok := exitCodes[e.Kind]; ok {
		return code
	}
	return 1
}

func pipelineErr(kind ErrorKind, step, format string, args ...interface{}) *PipelineError {
	return &PipelineError{Kind: kind, Step: step, Err: errors.Errorf(format, args...)}
}

func wrapPipelineErr(kind ErrorKind, step string, err error, msg string) *PipelineError {
	return &PipelineError{Kind: kind, Step: step, Err: errors.Wrap(err, msg)}
}

// HTTPError represents a non-2xx response from an external API, carrying
// enough of the body to diagnose the failure.
type HTTPError struct {
	StatusCode int
	URL        string
	Detail     string
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("HTTP %d for %s: %s", e.StatusCode, e.URL, e.Detail)
	}
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}
