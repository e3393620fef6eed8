// Package errors defines the coded errors the hub logs and the CLI reacts to.
//
// A code is "{domain}.{error}", for example "config.not_found". Packages wrap
// failures with a code at the point they happen; callers that need to tell
// failures apart switch on GetCode instead of matching message text.
package errors

import (
	"errors"
	"fmt"
)

const (
	CodeConfigNotFound = "config.not_found" // explicit config path is missing
	CodeConfigParse    = "config.parse"     // TOML did not decode
	CodeConfigInvalid  = "config.invalid"   // a value failed Validate

	CodeIngestMalformed = "ingest.malformed" // body is not a JSON object
	CodeIngestTooLarge  = "ingest.too_large" // body is over MaxBodyBytes
	CodeIngestSocket    = "ingest.socket"    // /device socket failed

	CodeServerUpgradeFailed  = "server.upgrade_failed"
	CodeServerInvalidMessage = "server.invalid_message"
	CodeServerListenFailed   = "server.listen_failed"
	CodeServerOriginRejected = "server.origin_rejected"

	CodeStorageOpenFailed  = "storage.open_failed"
	CodeStorageQueryFailed = "storage.query_failed"
	CodeStorageSaveFailed  = "storage.save_failed"

	CodeMirrorConnect = "mirror.connect"
	CodeMirrorPublish = "mirror.publish"

	// CodeUnknown is reported by GetCode for errors without a code.
	CodeUnknown = "error.unknown"
)

// CodedError is an error tagged with one of the codes above.
type CodedError struct {
	Code    string
	Message string
	Cause   error // may be nil
}

func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New returns a CodedError without a cause.
func New(code, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// Wrap tags cause with code.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{Code: code, Message: message, Cause: cause}
}

// GetCode returns the code of the first CodedError in err's chain,
// CodeUnknown if there is none, and "" for a nil error.
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// InvalidConfig reports a bad value for key.
func InvalidConfig(key, reason string) *CodedError {
	return New(CodeConfigInvalid, fmt.Sprintf("%s: %s", key, reason))
}

// InvalidMessage reports a dashboard frame that could not be decoded.
func InvalidMessage(reason string) *CodedError {
	return New(CodeServerInvalidMessage, reason)
}

// Malformed reports a device payload that is not a JSON object. The ingress
// path logs it and keeps the stored readings.
func Malformed(cause error) *CodedError {
	return Wrap(CodeIngestMalformed, "device payload is not a JSON object", cause)
}
