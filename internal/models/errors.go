package models

import "errors"

// ErrUserNotFound is returned when an operation names a user that does not exist
var ErrUserNotFound = errors.New("user not found")
