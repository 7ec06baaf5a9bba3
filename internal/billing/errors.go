package billing

import "errors"

var (
	ErrAuthenticationMissing    = errors.New("webhook signature or timestamp missing")
	ErrSignatureInvalid         = errors.New("webhook signature invalid")
	ErrPayloadMalformed         = errors.New("webhook payload malformed")
	ErrDuplicateEvent           = errors.New("webhook event already processed")
	ErrUnknownExternalReference = errors.New("unknown external reference")
	ErrSubscriberNotFound       = errors.New("subscriber not found")
	// ErrPersistence marks a failure the provider should retry by redelivering.
	ErrPersistence = errors.New("persistence failure")
	// ErrTransientInfrastructure marks a dependency failure on a read path.
	ErrTransientInfrastructure = errors.New("transient infrastructure error")
)
