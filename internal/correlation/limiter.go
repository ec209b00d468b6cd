// Package correlation implements position limits on written options that
// account for correlation between underlyings.
//
// A trader who writes calls on ACME, GLOBEX and INITECH at once carries one
// risk if all three move together. Underlyings are mapped to correlation
// groups; the limiter caps the notional written on a single underlying and
// the aggregate notional written across a group.
package correlation

import (
	"errors"

	"github.com/atmx/options-market/internal/model"
)

var (
	// ErrPerAssetLimitExceeded is returned when a listing would push the
	// notional written on one underlying beyond the per-asset maximum.
	ErrPerAssetLimitExceeded = errors.New("correlation: per-asset written notional limit exceeded")

	// ErrCorrelatedLimitExceeded is returned when a listing would push the
	// aggregate notional across correlated underlyings beyond the
	// correlated maximum.
	ErrCorrelatedLimitExceeded = errors.New("correlation: correlated written notional limit exceeded")
)

// PositionLimiter enforces written-notional limits with correlation
// awareness. A zero limit disables that check.
type PositionLimiter struct {
	// MaxPerAsset caps the strike notional written on one underlying.
	MaxPerAsset model.Cents

	// MaxCorrelated caps the strike notional written across all
	// underlyings in the same group.
	MaxCorrelated model.Cents

	// Groups maps an underlying to its correlation group. Underlyings
	// without an entry form a group of their own.
	Groups map[string]string
}

// NewPositionLimiter creates a limiter. groups may be nil.
func NewPositionLimiter(maxPerAsset, maxCorrelated model.Cents, groups map[string]string) *PositionLimiter {
	if groups == nil {
		groups = make(map[string]string)
	}
	return &PositionLimiter{
		MaxPerAsset:   maxPerAsset,
		MaxCorrelated: maxCorrelated,
		Groups:        groups,
	}
}

// Group returns the correlation group of an underlying.
func (l *PositionLimiter) Group(underlying string) string {
	if g, ok := l.Groups[underlying]; ok {
		return g
	}
	return underlying
}

// CheckLimit validates whether writing notionalDelta more on underlying
// respects the limits, given the seller's existing written notional per
// underlying. Returns nil if within limits.
func (l *PositionLimiter) CheckLimit(
	underlying string,
	notionalDelta model.Cents,
	existing map[string]model.Cents,
) error {
	// 1. Per-asset limit.
	newPosition := existing[underlying] + notionalDelta
	if l.MaxPerAsset > 0 && newPosition > l.MaxPerAsset {
		return ErrPerAssetLimitExceeded
	}

	if l.MaxCorrelated <= 0 {
		return nil
	}

	// 2. Correlated exposure: sum across underlyings in the same group.
	group := l.Group(underlying)
	total := newPosition
	for sym, notional := range existing {
		if sym == underlying {
			continue // already counted via newPosition
		}
		if l.Group(sym) == group {
			total += notional
		}
	}
	if total > l.MaxCorrelated {
		return ErrCorrelatedLimitExceeded
	}
	return nil
}
