package broker

import "errors"

// ErrNoCredentials is returned by a RoleProvider when the issuer reported
// success but did not return a credential set.
var ErrNoCredentials = errors.New("no credentials returned from STS")

// Kind classifies a failed role assumption.
type Kind int

const (
	// KindInternal is an unexpected failure inside the broker.
	KindInternal Kind = iota
	// KindInvalidArnFormat means the role ARN was empty or malformed.
	KindInvalidArnFormat
	// KindRoleAssumptionDenied means the provider rejected the request.
	KindRoleAssumptionDenied
	// KindNoCredentialsReturned means the provider returned no usable credentials.
	KindNoCredentialsReturned
	// KindTimeout means the provider did not answer in time. Clients may retry.
	KindTimeout
	// KindUpstreamUnavailable means the provider could not be reached.
	KindUpstreamUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArnFormat:
		return "InvalidArnFormat"
	case KindRoleAssumptionDenied:
		return "RoleAssumptionDenied"
	case KindNoCredentialsReturned:
		return "NoCredentialsReturned"
	case KindTimeout:
		return "Timeout"
	case KindUpstreamUnavailable:
		return "UpstreamUnavailable"
	default:
		return "Internal"
	}
}

// Client-facing messages for failures that do not carry upstream text.
const (
	MessageRoleARNRequired  = "Role ARN is required"
	MessageInvalidARNFormat = "Invalid role ARN format. Please provide a valid IAM role ARN."
	MessageNoCredentials    = "No credentials returned from STS"
	MessageTimeout          = "Timed out waiting for AWS to assume the role. Please try again."
	MessageUnavailable      = "Unable to reach AWS to assume the role. Please try again."
	MessageInternal         = "Internal server error occurred while assuming role"
)

// Error is the only error type returned across the Service boundary.
// Message is always safe to show to a client. The underlying cause is kept
// for server-side logging and is reachable through errors.Unwrap.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf returns the Kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}
