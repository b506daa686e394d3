package slots

import "errors"

var ErrInvalidSlot = errors.New("invalid slot")
