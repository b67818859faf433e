package service

import "errors"

// Sentinel errors for the session manager; handlers map them to HTTP status codes.
var (
	// ErrInvalidRefreshToken is matched by every refresh validation failure. It is the only
	// message callers outside this package should ever show.
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	// ErrRefreshTokenReuse is additionally matched when a revoked token was presented again
	// and its whole family was revoked.
	ErrRefreshTokenReuse = errors.New("refresh token reuse detected; all sessions in the family revoked")
	ErrInvalidSubject    = errors.New("session: subject id is required")
	ErrInvalidFamily     = errors.New("session: family id is required")
	ErrInvalidListQuery  = errors.New("session: invalid list query")
	ErrSessionNotFound   = errors.New("session not found")
)

// Reason classifies a refresh validation failure for logs, metrics and revocation blast radius.
type Reason string

const (
	ReasonMalformed       Reason = "malformed"
	ReasonWrongType       Reason = "wrong_type"
	ReasonUnknown         Reason = "unknown"
	ReasonReuse           Reason = "reuse"
	ReasonExpired         Reason = "expired"
	ReasonDeviceMismatch  Reason = "device_mismatch"
	ReasonSubjectMismatch Reason = "subject_mismatch"
	ReasonStoreFailure    Reason = "store_failure"
)

// RefreshError is returned by Validate and Rotate. Every RefreshError matches
// ErrInvalidRefreshToken; ReasonReuse also matches ErrRefreshTokenReuse.
type RefreshError struct {
	Reason    Reason
	SessionID string
	FamilyID  string
	Err       error
}

func (e *RefreshError) Error() string {
	msg := "refresh token rejected: " + string(e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RefreshError) Unwrap() []error {
	errs := []error{ErrInvalidRefreshToken}
	if e.Reason == ReasonReuse {
		errs = append(errs, ErrRefreshTokenReuse)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ReasonOf returns the failure reason carried by err, or "" if err is not a RefreshError.
func ReasonOf(err error) Reason {
	var rerr *RefreshError
	if errors.As(err, &rerr) {
		return rerr.Reason
	}
	return ""
}
