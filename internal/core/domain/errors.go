package domain

import "errors"

var (
	ErrUnknownSession      = errors.New("unknown session")
	ErrUnknownRecipient    = errors.New("unknown recipient")
	ErrProtocolViolation   = errors.New("protocol violation")
	ErrUnrecognizedCommand = errors.New("unrecognized command")
	ErrFileNotFound        = errors.New("file not found")
	ErrTransferInterrupted = errors.New("transfer interrupted")
	ErrResourceExhausted   = errors.New("resource exhausted")
	ErrInvalidFilename     = errors.New("invalid filename")
	ErrInvalidDisplayName  = errors.New("invalid display name")
	ErrAlreadyRegistered   = errors.New("connection already registered")
	ErrFrameTooLarge       = errors.New("frame too large")
)
