package stowaway

// Result is one item on a Subscribe stream: a value, or the error that took its
// place. Transport failures and undecodable payloads travel in-band so a single
// range loop sees everything.
type Result[T any] struct {
	value T
	err   error
}

// NewSuccess wraps a delivered value.
func NewSuccess[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// NewError wraps a failure; the value is the zero T.
func NewError[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// ResultOf turns a (value, error) pair into a Result, dropping value when err is set.
func ResultOf[T any](value T, err error) Result[T] {
	if err != nil {
		return NewError[T](err)
	}
	return NewSuccess(value)
}

// IsError reports whether r carries an error.
func (r Result[T]) IsError() bool { return r.err != nil }

// IsSuccess reports whether r carries a value.
func (r Result[T]) IsSuccess() bool { return r.err == nil }

// Value is the zero T for an error Result.
func (r Result[T]) Value() T { return r.value }

// Error is nil for a successful Result.
func (r Result[T]) Error() error { return r.err }

// Get unpacks r for the usual `v, err :=` form.
func (r Result[T]) Get() (T, error) { return r.value, r.err }
