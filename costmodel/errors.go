package costmodel

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid model parameter")
	ErrUnknownFeeTier   = errors.New("unknown fee tier")
)
