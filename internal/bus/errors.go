package bus

import "errors"

var ErrClosed = errors.New("transport is closed")
