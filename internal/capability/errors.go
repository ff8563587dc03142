package capability

// modelNotFoundError signals an identity absent from a pool's catalog.
type modelNotFoundError struct{ identity string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.identity }

// ErrModelNotFound constructs a not-found error for the given identity.
func ErrModelNotFound(identity string) error { return modelNotFoundError{identity: identity} }

// IsModelNotFound reports whether err indicates an unregistered identity.
func IsModelNotFound(err error) bool {
	_, ok := err.(modelNotFoundError)
	return ok
}
