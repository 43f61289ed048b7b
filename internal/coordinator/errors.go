package coordinator

import "errors"

var (
	ErrAlreadyConnected     = errors.New("already connected")
	ErrNotConnected         = errors.New("not connected")
	ErrAlreadyPairing       = errors.New("already pairing")
	ErrConnectionFailed     = errors.New("connection failed")
	ErrTransferFailed       = errors.New("transfer failed")
	ErrPostProcessingFailed = errors.New("post-processing failed")
	ErrMessageTooLarge      = errors.New("message too large")
	ErrClosed               = errors.New("coordinator closed")
)
