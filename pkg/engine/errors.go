package engine

import (
	"errors"
	"fmt"

	"github.com/openboots/openboots/pkg/manifest"
)

// ErrorClass classifies bootstrap errors by the stage that produced them.
type ErrorClass string

const (
	// ErrorClassManifest covers fetching or validating the bootstrap manifest.
	ErrorClassManifest ErrorClass = "manifest"

	// ErrorClassFetch covers downloading a package payload.
	ErrorClassFetch ErrorClass = "fetch"

	// ErrorClassInstall covers executing an installer.
	ErrorClassInstall ErrorClass = "install"

	// ErrorClassStatus covers status store reads and writes.
	ErrorClassStatus ErrorClass = "status"
)

// EngineError is a classified bootstrap error with package and phase context.
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Package is the package that caused the error, if applicable.
	Package string `json:"package,omitempty"`

	// Phase is the phase being executed when the error occurred.
	Phase manifest.Phase `json:"phase,omitempty"`

	// ExitCode is the installer exit code for install errors.
	ExitCode int `json:"exit_code,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("[%s] %s (package=%s): %s", e.Class, e.Message, e.Package, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// NewManifestError creates a manifest-class error.
func NewManifestError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassManifest, Message: message, Err: err}
}

// NewFetchError creates a fetch-class error for a package.
func NewFetchError(pkg string, phase manifest.Phase, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassFetch,
		Message: "failed to fetch package",
		Package: pkg,
		Phase:   phase,
		Err:     err,
	}
}

// NewInstallError creates an install-class error carrying the exit code.
func NewInstallError(pkg string, phase manifest.Phase, exitCode int, err error) *EngineError {
	return &EngineError{
		Class:    ErrorClassInstall,
		Message:  "failed to install package",
		Package:  pkg,
		Phase:    phase,
		ExitCode: exitCode,
		Err:      err,
	}
}

// NewStatusError creates a status-class error.
func NewStatusError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassStatus, Message: message, Err: err}
}

// GetErrorClass extracts the classification from an error chain; errors
// without an EngineError default to install.
func GetErrorClass(err error) ErrorClass {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Class
	}
	return ErrorClassInstall
}

// IsManifestError reports whether err is classified as a manifest error.
func IsManifestError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Class == ErrorClassManifest
}

// IsFetchError reports whether err is classified as a fetch error.
func IsFetchError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Class == ErrorClassFetch
}

// IsInstallError reports whether err is classified as an install error.
func IsInstallError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Class == ErrorClassInstall
}
