package repository

import "errors"

// ErrClosed is returned by every call made after Close.
var ErrClosed = errors.New("repository closed")
