package queue

import "errors"

// ErrClosed is reported once the queue no longer accepts notifications.
var ErrClosed = errors.New("notification queue closed")
