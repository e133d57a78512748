// Package meshcore collects the error kinds shared across the mesh, gossip,
// and media subsystems (spec §7), as a closed set of sentinel values in the
// teacher's style (plain exported vars, wrapped with fmt.Errorf at the call
// site, matchable with errors.Is) rather than a custom error-code enum.
package meshcore

import "errors"

var (
	// ErrMalformedMessage is returned (and logged, message dropped) when a
	// dispatched message is missing a field its type requires.
	ErrMalformedMessage = errors.New("meshcore: malformed message")

	// ErrUnknownTransport is returned when a send targets a connection that
	// is closed or was never established.
	ErrUnknownTransport = errors.New("meshcore: unknown or closed transport")

	// ErrHandshakeFailure is the error kind for a failed SDP/ICE
	// negotiation. No code path returns it: internal/meshnet logs
	// negotiation errors and leaves the connection entry in place.
	ErrHandshakeFailure = errors.New("meshcore: handshake failure")

	// ErrOriginFetchFailure is returned when an origin byte-range fetch
	// does not return 200/206.
	ErrOriginFetchFailure = errors.New("meshcore: origin fetch failure")

	// ErrUnexpectedPart is the error kind for a media:part that arrives for
	// a part not currently pending. No code path returns it: MediaFetcher
	// drops such a part silently.
	ErrUnexpectedPart = errors.New("meshcore: unexpected part")

	// ErrTimeoutExpired is the error kind for a deadline that elapses before
	// delivery. No code path returns it: the retry queue and MediaFetcher
	// handle expiry themselves (drop and log, or roll back / fall back).
	ErrTimeoutExpired = errors.New("meshcore: timeout expired")

	// ErrInvariantViolation indicates a programmer error (e.g. a gossip
	// view that exceeds C after merge). Callers that detect this should
	// treat it as fatal, per spec §7.
	ErrInvariantViolation = errors.New("meshcore: invariant violation")
)
