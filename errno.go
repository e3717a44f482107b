package ramblk

import "errors"

var (
	ErrOutOfRange      = errors.New("sector range beyond device capacity")
	ErrUnaligned       = errors.New("unsupported alignment")
	ErrNoSpace         = errors.New("no space for page")
	ErrDeviceNotFound  = errors.New("device not found")
	ErrInvalidDeviceID = errors.New("invalid device id")
	ErrDeviceDestroyed = errors.New("device destroyed")
	ErrRegistryClosed  = errors.New("registry closed")
)
