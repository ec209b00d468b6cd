package model

import "errors"

// Sentinel errors for the options market. Operations wrap these with
// context via fmt.Errorf("%w: ..."); callers match with errors.Is.
var (
	ErrInsufficientCash       = errors.New("insufficient_cash")
	ErrInsufficientAsset      = errors.New("insufficient_asset")
	ErrInsufficientFreeAsset  = errors.New("insufficient_free_asset")
	ErrInsufficientCollateral = errors.New("insufficient_collateral")
	ErrInvalidTerms           = errors.New("invalid_terms")
	ErrInvalidState           = errors.New("invalid_state")
	ErrNotOwner               = errors.New("not_owner")
	ErrNotBuyer               = errors.New("not_buyer")
	ErrExpired                = errors.New("expired")

	// ErrOverRelease means more collateral was released than reserved.
	// It is never a user error: the engine panics when it sees one.
	ErrOverRelease = errors.New("over_release")

	ErrUnknownUser      = errors.New("unknown_user")
	ErrUserExists       = errors.New("user_exists")
	ErrContractNotFound = errors.New("contract_not_found")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrSelfTrade        = errors.New("self_trade")
	ErrPositionLimit    = errors.New("position_limit")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrUnknownAsset     = errors.New("unknown_asset")
)

var reasons = []error{
	ErrInsufficientCollateral,
	ErrInsufficientFreeAsset,
	ErrInsufficientCash,
	ErrInsufficientAsset,
	ErrInvalidTerms,
	ErrInvalidState,
	ErrNotOwner,
	ErrNotBuyer,
	ErrExpired,
	ErrOverRelease,
	ErrUnknownUser,
	ErrUserExists,
	ErrContractNotFound,
	ErrInvalidAmount,
	ErrSelfTrade,
	ErrPositionLimit,
	ErrUnauthorized,
	ErrUnknownAsset,
}

// Reason returns the label of the first sentinel err wraps, or "other".
// Used as a low-cardinality metrics label.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r) {
			return r.Error()
		}
	}
	return "other"
}
