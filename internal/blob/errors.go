package blob

import (
	"errors"
	"fmt"
	"time"
)

const (
	CodeConfiguration  = "E_CONFIG"
	CodePresignTimeout = "E_PRESIGN_TIMEOUT"
	CodeUploadTimeout  = "E_UPLOAD_TIMEOUT"
	CodeUploadFailed   = "E_UPLOAD_FAILED"
	CodePartUpload     = "E_PART_UPLOAD"
	CodeUnknown        = "E_UNKNOWN_ERR"
)

// CodedError is implemented by every transport error.
// ErrorCode is short and machine readable, ErrorMessage is for humans.
type CodedError interface {
	error
	ErrorCode() string
	ErrorMessage() string
}

// BaseError provides common error functionality
type BaseError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *BaseError) ErrorCode() string    { return e.Code }
func (e *BaseError) ErrorMessage() string { return e.Message }

// ConfigurationError reports a missing or invalid storage setting. Never retried.
type ConfigurationError struct {
	BaseError
	Field string
}

func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{
		BaseError: BaseError{Code: CodeConfiguration, Message: message},
		Field:     field,
	}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

type PresignTimeoutError struct {
	BaseError
	Key     string
	Timeout time.Duration
}

func NewPresignTimeoutError(key string, timeout time.Duration) *PresignTimeoutError {
	return &PresignTimeoutError{
		BaseError: BaseError{Code: CodePresignTimeout, Message: fmt.Sprintf("presign took longer than %s", timeout)},
		Key:       key,
		Timeout:   timeout,
	}
}

func (e *PresignTimeoutError) Error() string {
	return fmt.Sprintf("presign timeout: %s (%s)", e.Key, e.Message)
}

type UploadTimeoutError struct {
	BaseError
	Key     string
	Timeout time.Duration
}

func NewUploadTimeoutError(key string, timeout time.Duration) *UploadTimeoutError {
	return &UploadTimeoutError{
		BaseError: BaseError{Code: CodeUploadTimeout, Message: fmt.Sprintf("upload took longer than %s", timeout)},
		Key:       key,
		Timeout:   timeout,
	}
}

func (e *UploadTimeoutError) Error() string {
	return fmt.Sprintf("upload timeout: %s (%s)", e.Key, e.Message)
}

// UploadFailedError is any non-2xx answer from the object store
type UploadFailedError struct {
	BaseError
	Key    string
	Status int
	Body   string
}

func NewUploadFailedError(key string, status int, body string) *UploadFailedError {
	return &UploadFailedError{
		BaseError: BaseError{Code: CodeUploadFailed, Message: fmt.Sprintf("storage answered %d", status)},
		Key:       key,
		Status:    status,
		Body:      body,
	}
}

func (e *UploadFailedError) Error() string {
	return fmt.Sprintf("upload failed: %s: status %d: %s", e.Key, e.Status, e.Body)
}

// PartUploadError is a multipart part that exhausted its retries
type PartUploadError struct {
	BaseError
	Key        string
	PartNumber int32
	Attempts   int
	Err        error
}

func NewPartUploadError(key string, part int32, attempts int, err error) *PartUploadError {
	return &PartUploadError{
		BaseError:  BaseError{Code: CodePartUpload, Message: fmt.Sprintf("part %d failed after %d attempts", part, attempts)},
		Key:        key,
		PartNumber: part,
		Attempts:   attempts,
		Err:        err,
	}
}

func (e *PartUploadError) Error() string {
	return fmt.Sprintf("part upload error: %s: %s: %v", e.Key, e.Message, e.Err)
}

func (e *PartUploadError) Unwrap() error {
	return e.Err
}

var (
	_ CodedError = (*ConfigurationError)(nil)
	_ CodedError = (*PresignTimeoutError)(nil)
	_ CodedError = (*UploadTimeoutError)(nil)
	_ CodedError = (*UploadFailedError)(nil)
	_ CodedError = (*PartUploadError)(nil)
)

// ErrorCode returns the machine readable code of the first CodedError in err's chain
func ErrorCode(err error) string {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return CodeUnknown
}

// IsRetryable reports whether a later attempt may succeed.
// Configuration problems are never retryable.
func IsRetryable(err error) bool {
	var cfgErr *ConfigurationError
	return err != nil && !errors.As(err, &cfgErr)
}
