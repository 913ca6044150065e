package engine

import (
	"context"
	"errors"
)

// Kind groups errors by how a caller should react to them.
type Kind string

const (
	// KindValidation is a malformed request. Never retry as-is.
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	// KindConflict means the target's current state forbids the operation,
	// usually because an earlier operation already succeeded.
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	// KindPolicy is an expected refusal by the collateral policy ("loan
	// denied"), not a fault.
	KindPolicy Kind = "policy"
	// KindTransient can be retried with backoff.
	KindTransient Kind = "transient"
	KindInternal  Kind = "internal"
)

type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

var (
	ErrInvalidValuation    = newError(KindValidation, "InvalidValuation", "valuation must be greater than zero")
	ErrInvalidAsset        = newError(KindValidation, "InvalidAsset", "asset id and owner are required")
	ErrInvalidLoanTerms    = newError(KindValidation, "InvalidLoanTerms", "loan principal, duration and borrower are required")
	ErrRiskScoreOutOfRange = newError(KindValidation, "RiskScoreOutOfRange", "risk score must be within 0..100")
	ErrInvalidConfidence   = newError(KindValidation, "InvalidConfidence", "confidence must be within 0.0..1.0")
	ErrInvalidPrincipal    = newError(KindValidation, "InvalidPrincipal", "principal is required")
	ErrStaticAuthorities   = newError(KindValidation, "StaticAuthorities", "risk authorities are statically configured")

	ErrAssetNotFound  = newError(KindNotFound, "AssetNotFound", "asset not found")
	ErrLoanNotFound   = newError(KindNotFound, "LoanNotFound", "loan not found")
	ErrNoObservations = newError(KindNotFound, "NotFound", "no risk observations recorded")

	ErrDuplicateAsset    = newError(KindConflict, "DuplicateAsset", "asset already exists")
	ErrLoanAlreadyExists = newError(KindConflict, "LoanAlreadyExists", "borrower already has an active loan on this asset")
	ErrAssetInactive     = newError(KindConflict, "AssetInactive", "asset is not active")
	ErrLoanNotActive     = newError(KindConflict, "LoanNotActive", "loan is not active")

	ErrUnauthorized = newError(KindUnauthorized, "Unauthorized", "principal is not allowed to perform this operation")

	ErrExceedsMaxLTV          = newError(KindPolicy, "ExceedsMaxLTV", "loan amount exceeds maximum LTV")
	ErrNotLiquidationEligible = newError(KindPolicy, "NotLiquidationEligible", "loan is not eligible for liquidation")

	ErrLockTimeout = newError(KindTransient, "LockTimeout", "asset is busy, retry later")
	ErrRateLimited = newError(KindTransient, "RateLimited", "too many risk submissions for this asset and source")
)

// KindOf classifies err. Context cancellation and deadlines are transient;
// anything not raised by this package is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindInternal
}

// CodeOf returns the stable code of err, e.g. "ExceedsMaxLTV".
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "Cancelled"
	}
	return "Internal"
}
