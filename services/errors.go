// services/errors.go
package services

import "errors"

// Sentinels shared across the domain services. Fiber handlers map these to
// response codes; anything unlisted surfaces as a generic 500 with detail only
// in the server log.
var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrBountyNotOpen       = errors.New("bounty is not open")
	ErrBountyNotFunded     = errors.New("bounty funding is not confirmed on-chain")
	ErrAlreadyLinked       = errors.New("transaction already linked to another bounty")
	ErrDeadlinePassed      = errors.New("submission deadline has passed")
	ErrClaimWindowClosed   = errors.New("claim window has closed")
	ErrWinnerAddress       = errors.New("winner address does not match candidate payout address")
	ErrRejectionsRequired  = errors.New("all current submissions must be explicitly rejected")
	ErrCancelTxRequired    = errors.New("cancellation txHash is required for funded bounties")
	ErrInsufficientBalance = errors.New("requested amount exceeds available balance")
	ErrDuplicateSubmission = errors.New("candidate already submitted to this bounty")
	ErrCandidateBlocked    = errors.New("candidate is blocked by this employer")
)
