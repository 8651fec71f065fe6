package operation

import "github.com/go-faster/errors"

// ErrNotRegistered is returned when an operation code has no implementation
// in the registry. A persisted instance referencing an unknown code is a
// configuration error and is propagated, never defaulted.
var ErrNotRegistered = errors.New("operation not registered")

// Registry maps operation codes to their implementations. It is populated
// once at process configuration time and passed explicitly to evaluators;
// there is no ambient global registry.
type Registry[T any] struct {
	byCode map[string]T
	codes  []string
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{byCode: make(map[string]T)}
}

// Register associates the implementation with its code, replacing any
// previous registration for the same code.
func (r *Registry[T]) Register(code string, impl T) {
	if _, exists := r.byCode[code]; !exists {
		r.codes = append(r.codes, code)
	}
	r.byCode[code] = impl
}

// Get resolves an implementation by code.
func (r *Registry[T]) Get(code string) (T, error) {
	impl, ok := r.byCode[code]
	if !ok {
		var zero T
		return zero, errors.Wrapf(ErrNotRegistered, "code %q", code)
	}
	return impl, nil
}

// Codes returns the registered codes in registration order.
func (r *Registry[T]) Codes() []string {
	out := make([]string, len(r.codes))
	copy(out, r.codes)
	return out
}
