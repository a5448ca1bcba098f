package models

// ResultStatus tags a query result.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// Result is the envelope returned by every top-level query. A query that
// matched nothing is a success with Count 0; a store failure is an error
// result carrying a message and default data.
type Result[T any] struct {
	Status  ResultStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Count   int          `json:"count"`
	Data    T            `json:"data"`

	Err error `json:"-"`
}

// Success builds a success result.
func Success[T any](data T, count int) Result[T] {
	return Result[T]{Status: ResultSuccess, Count: count, Data: data}
}

// Failure builds an error result with default data.
func Failure[T any](err error, data T) Result[T] {
	return Result[T]{Status: ResultError, Message: err.Error(), Data: data, Err: err}
}

// OK reports whether the result is a success.
func (r Result[T]) OK() bool {
	return r.Status == ResultSuccess
}
