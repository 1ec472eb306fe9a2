package smdh

import "errors"

// ErrInvalidSMDH indicates a blob of the wrong length or missing magic.
var ErrInvalidSMDH = errors.New("smdh: invalid icon/title header")
