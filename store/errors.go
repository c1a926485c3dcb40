package store

import "errors"

// Error taxonomy: Tamper is fatal and never retried; Transport is
// retried up to a bound then surfaced; Protocol is treated as Tamper.
var (
	// ErrTamper marks a proof or page that failed verification against
	// the trusted root.
	ErrTamper = errors.New("store: tamper detected, verification failed")

	// ErrProtocol marks a well-formed transport response with a
	// malformed proof (duplicate node id, missing sibling, out-of-order
	// entries). Treated identically to ErrTamper by callers.
	ErrProtocol = errors.New("store: malformed proof response")

	// ErrTransport marks a retriable failure: unreachable server,
	// timeout, or corrupted framing.
	ErrTransport = errors.New("store: transport failure")

	ErrRootAttestationFailed = errors.New("store: root attestation signature did not verify")
	ErrUnexpectedPageCount   = errors.New("store: fetch result page count does not match requested id count")
)
