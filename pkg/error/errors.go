package error

import "net/http"

// GenericError is what the recovery middleware turns into a JSON response.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}

type ValidationError string

func (err ValidationError) Error() string {
	return string(err)
}

func (err ValidationError) ErrCode() string {
	return "VALIDATION_ERROR"
}

func (err ValidationError) StatusCode() int {
	return http.StatusBadRequest
}

type NotFoundError string

func (err NotFoundError) Error() string {
	return string(err)
}

func (err NotFoundError) ErrCode() string {
	return "NOT_FOUND_ERROR"
}

func (err NotFoundError) StatusCode() int {
	return http.StatusNotFound
}

// ConflictError reports a request that clashes with the current lifecycle state.
type ConflictError string

func (err ConflictError) Error() string {
	return string(err)
}

func (err ConflictError) ErrCode() string {
	return "CONFLICT"
}

func (err ConflictError) StatusCode() int {
	return http.StatusConflict
}

type InternalServerError string

func (err InternalServerError) Error() string {
	return string(err)
}

func (err InternalServerError) ErrCode() string {
	return "INTERNAL_SERVER_ERROR"
}

func (err InternalServerError) StatusCode() int {
	return http.StatusInternalServerError
}
