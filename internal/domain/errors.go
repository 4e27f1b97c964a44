package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrEmptyPostings        = errors.New("entry needs at least two postings")
	ErrUnbalancedEntry      = errors.New("postings do not sum to zero")
	ErrNegativeAmount       = errors.New("amount must not be negative")
	ErrMissingCorrelationID = errors.New("correlation id is required")
	ErrClientCausalityID    = errors.New("causality id is reserved for the ledger")
	ErrMalformedAccountKey  = errors.New("malformed account key")
	ErrInvalidIntent        = errors.New("unknown intent")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrMarginBreach         = errors.New("margin ratio below maintenance threshold")
	ErrComplianceBlocked    = errors.New("blocked by compliance policy")
	ErrBrokenChain          = errors.New("hash chain integrity violation")
	ErrSequenceGap          = errors.New("sequence is not contiguous with store tail")
	ErrStoreCorrupt         = errors.New("store file state is ambiguous")
	ErrHalted               = errors.New("writer halted pending chain audit")
	ErrInvalidSignature     = errors.New("entry signature verification failed")
	ErrProviderUnavailable  = errors.New("status provider unavailable")
)
