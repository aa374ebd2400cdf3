package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrScopeMissing indicates the request carried no tenant scope.
	ErrScopeMissing = errors.New("tenant scope missing")
)
