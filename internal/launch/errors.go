package launch

import "errors"

var (
	// ErrAlreadyLaunched is returned when a proposal already has a
	// launch record.
	ErrAlreadyLaunched = errors.New("proposal has already been launched")
)
