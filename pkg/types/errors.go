package types

import "errors"

// Domain errors for type validation
var (
	ErrInvalidNodeRef = errors.New("invalid node reference")
	ErrEmptyJob       = errors.New("job contains no nodes")
)
