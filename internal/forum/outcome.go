package forum

// OutcomeKind tags the result of a single transport round trip.
type OutcomeKind int

// Outcome kinds returned by a Transport.
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRateLimited
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of one round trip: Success carries Response,
// Failure carries Err, RateLimited carries neither.
type Outcome struct {
	Kind     OutcomeKind
	Response Response
	Err      error
}

// Success wraps a successful response.
func Success(resp Response) Outcome {
	return Outcome{Kind: OutcomeSuccess, Response: resp}
}

// RateLimited signals an HTTP 429.
func RateLimited() Outcome {
	return Outcome{Kind: OutcomeRateLimited}
}

// Failure wraps a non-retryable error.
func Failure(err error) Outcome {
	return Outcome{Kind: OutcomeFailure, Err: err}
}
