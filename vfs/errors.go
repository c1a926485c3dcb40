package vfs

import "errors"

var ErrClosed = errors.New("vfs: file is closed")
