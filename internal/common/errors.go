package common

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindForbidden
	KindRateLimited
	KindQuota
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	case KindQuota:
		return "quota_exceeded"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Error carries a client-safe Detail; Err is for server logs only.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(detail string) error {
	return &Error{Kind: KindValidation, Detail: detail}
}

func Unauthorized(detail string) error {
	return &Error{Kind: KindAuth, Detail: detail}
}

func Forbidden(detail string) error {
	return &Error{Kind: KindForbidden, Detail: detail}
}

func RateLimited(detail string) error {
	return &Error{Kind: KindRateLimited, Detail: detail}
}

func QuotaExceeded(detail string) error {
	return &Error{Kind: KindQuota, Detail: detail}
}

func Upstream(err error) error {
	return &Error{Kind: KindUpstream, Detail: "سرویس هوش مصنوعی در دسترس نیست، لطفاً دوباره تلاش کنید.", Err: err}
}

func Internal(err error) error {
	return &Error{Kind: KindInternal, Detail: "internal error", Err: err}
}

// KindOf reports the taxonomy kind of err; unknown errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindQuota:
		return http.StatusPaymentRequired
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Detail returns the message safe to show a client.
func Detail(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Detail
	}
	return "internal error"
}
