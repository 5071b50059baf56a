package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrJobInProgress       = errors.New("generation already in progress")
	ErrInvalidSelection    = errors.New("avatar cannot be selected")
	ErrNoFailedAvatars     = errors.New("no failed avatars to retry")
	ErrSourcePhotosMissing = errors.New("avatar source photos unavailable")
	ErrCredentialMissing   = errors.New("api key is not configured")
)

// ErrorKind classifies generation failures.
type ErrorKind string

const (
	KindAuth              ErrorKind = "auth_error"
	KindQuotaExceeded     ErrorKind = "quota_exceeded"
	KindPayloadTooLarge   ErrorKind = "payload_too_large"
	KindMalformedRequest  ErrorKind = "malformed_request"
	KindNoImageInResponse ErrorKind = "no_image_in_response"
	KindTimeout           ErrorKind = "timeout"
	KindNetwork           ErrorKind = "network_error"
	KindCompression       ErrorKind = "compression_error"
	KindUnknown           ErrorKind = "unknown"
)

// RoutesToCredentials reports whether failures of this kind should send the
// user to the credential settings surface.
func (k ErrorKind) RoutesToCredentials() bool {
	return k == KindAuth || k == KindQuotaExceeded
}

// GenerationError is raised by the preprocessing pipeline and the remote
// client. Kind is set where the error originates.
type GenerationError struct {
	Kind        ErrorKind
	StatusCode  int
	Message     string
	UserMessage string
	Err         error
}

func (e *GenerationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	if msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// NewGenerationError builds a GenerationError of the given kind.
func NewGenerationError(kind ErrorKind, message string, err error) *GenerationError {
	return &GenerationError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the taxonomy kind of err. Deadline errors that escaped
// classification count as timeouts.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var gerr *GenerationError
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// UserMessageOf returns the pre-formatted user message carried by err, if any.
func UserMessageOf(err error) string {
	var gerr *GenerationError
	if errors.As(err, &gerr) {
		return gerr.UserMessage
	}
	return ""
}

// MaxUserMessageRunes caps model text surfaced to users.
const MaxUserMessageRunes = 280

// TruncateUserMessage cuts s to MaxUserMessageRunes runes.
func TruncateUserMessage(s string) string {
	n := 0
	for i := range s {
		if n == MaxUserMessageRunes {
			return s[:i]
		}
		n++
	}
	return s
}

// PreconditionReason names an unmet job precondition.
type PreconditionReason string

const (
	ReasonMissingCredential PreconditionReason = "missing_credential"
	ReasonNoAvatar          PreconditionReason = "no_avatar"
	ReasonNoGarments        PreconditionReason = "no_garments"
	ReasonNoSourcePhotos    PreconditionReason = "no_source_photos"
	ReasonNothingToRetry    PreconditionReason = "nothing_to_retry"
	ReasonInvalidInput      PreconditionReason = "invalid_input"
)

// PreconditionError reports a start request rejected before the job entered
// Running. It is a warning for the user, not a job failure.
type PreconditionError struct {
	Reason PreconditionReason
	Err    error
}

func (e *PreconditionError) Error() string {
	if e.Err == nil {
		return "precondition failed: " + string(e.Reason)
	}
	return fmt.Sprintf("precondition failed: %s: %v", e.Reason, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }
