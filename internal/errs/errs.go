// Package errs defines the closed set of structured error kinds the engine
// uses internally. Recorders and public entry points never propagate these
// to the host application; they are logged, counted against session
// metrics, and handled per the policy table they're named after.
package errs

import "errors"

// Kind identifies one of the error categories the engine's error-handling
// design distinguishes between. Each constant's comment states the policy
// that kind implies.
type Kind int

const (
	// KindTransientTransport covers timeouts, 5xx responses, and connection
	// resets during presign/PUT/complete. Retried with backoff, feeds the
	// circuit breaker.
	KindTransientTransport Kind = iota
	// KindFatalTransport covers 4xx responses other than 402. The upload is
	// dropped; still feeds the circuit breaker.
	KindFatalTransport
	// KindBillingBlocked is a 402 on presign. Sets billingBlocked for the
	// session; session close is still attempted.
	KindBillingBlocked
	// KindAuthFatal is a 403/404 from the Device Registrar. The session must
	// not start.
	KindAuthFatal
	// KindSerializationFailure covers gzip errors and batch overflow.
	// Drained records are pushed back to the ring head.
	KindSerializationFailure
	// KindBudgetOverrun covers hierarchy scan time budget exceeded or view
	// cap reached. The current node is replaced by a bailout marker.
	KindBudgetOverrun
	// KindEncoderFailure covers video encoder failures. The current segment
	// is cancelled and the cycle retried at the next tick.
	KindEncoderFailure
)

func (k Kind) String() string {
	switch k {
	case KindTransientTransport:
		return "transient_transport"
	case KindFatalTransport:
		return "fatal_transport"
	case KindBillingBlocked:
		return "billing_blocked"
	case KindAuthFatal:
		return "auth_fatal"
	case KindSerializationFailure:
		return "serialization_failure"
	case KindBudgetOverrun:
		return "budget_overrun"
	case KindEncoderFailure:
		return "encoder_failure"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a structured Kind so callers can
// branch on category via errors.As without string matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error of the given kind.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
