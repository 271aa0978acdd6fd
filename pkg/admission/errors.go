package admission

import "errors"

var (
	// ErrStoreUnavailable is returned by stores when the backing service
	// is unreachable. The gate never surfaces it; it fails open instead.
	ErrStoreUnavailable = errors.New("counter store unavailable")

	// ErrNoEligibleCredential is returned when every credential for a
	// service is exhausted or deactivated. Callers should defer and retry,
	// not fail hard.
	ErrNoEligibleCredential = errors.New("no eligible credential")

	// ErrCredentialNotFound is returned for an unknown credential ID.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrInvalidCost is returned for a negative credit cost.
	ErrInvalidCost = errors.New("invalid credit cost")
)
