package payment

import "errors"

var (
	// ErrInvalidProof means the X-PAYMENT header could not be decoded or is
	// missing fields the chosen scheme requires.
	ErrInvalidProof = errors.New("payment: invalid proof")

	// ErrSignatureMismatch means the recovered signer does not match the
	// address the proof claims.
	ErrSignatureMismatch = errors.New("payment: signature does not match claimed address")

	// ErrPaymentRejected means the facilitator explicitly declined the proof.
	ErrPaymentRejected = errors.New("payment: rejected by facilitator")

	// ErrFacilitatorUnavailable means the facilitator could not be reached.
	// Fatal outside local-dev configuration.
	ErrFacilitatorUnavailable = errors.New("payment: facilitator unavailable")
)
