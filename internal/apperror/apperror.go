package apperror

import "net/http"

type Code string

const (
	BadRequest          Code = "BAD_REQUEST"
	NotFound            Code = "NOT_FOUND"
	Internal            Code = "INTERNAL"
	UpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	UpstreamProtocol    Code = "UPSTREAM_PROTOCOL"
)

type AppError struct {
	code    Code
	message string
	cause   error
}

func New(code Code, message string) *AppError {
	return &AppError{code: code, message: message}
}

// Wrap is New with an underlying cause kept for errors.Is/As and logging.
func Wrap(code Code, message string, cause error) *AppError {
	return &AppError{code: code, message: message, cause: cause}
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *AppError) Unwrap() error   { return e.cause }
func (e *AppError) Code() Code      { return e.code }
func (e *AppError) Message() string { return e.message }

func (e *AppError) HTTPStatus() int {
	switch e.code {
	case BadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case UpstreamUnavailable:
		return http.StatusServiceUnavailable
	case UpstreamProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
