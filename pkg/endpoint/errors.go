package endpoint

import "errors"

// Protocol-level delivery errors. Everything except ErrAlreadyDelivered
// rejects the message before any state change, so a corrected retry can
// still succeed.
var (
	ErrUnauthorizedRelay          = errors.New("unauthorized relay")
	ErrNoRemoteEndpoint           = errors.New("no remote endpoint registered for source chain")
	ErrUnregisteredRemoteEndpoint = errors.New("source address is not a registered remote endpoint")
	ErrInvalidPayload             = errors.New("invalid payload")
	ErrNoBoundHandler             = errors.New("no handler bound for message type")
	ErrAlreadyDelivered           = errors.New("message already delivered")
	ErrUnregisteredSender         = errors.New("sender is not a registered local handler")
)
