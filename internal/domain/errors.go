package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrRateLimited           = errors.New("rate limited")
	ErrSigningFailed         = errors.New("signing failed")
	ErrLockHeld              = errors.New("lock already held")
	ErrInvariantViolated     = errors.New("constant product invariant decreased")
	ErrOrderAlreadyClosed    = errors.New("order already filled or cancelled")
	ErrStalePrice            = errors.New("stale price")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrUnknownStrategy       = errors.New("unknown strategy")
	ErrBotNotFound           = errors.New("bot not found")
	ErrInvalidSettings       = errors.New("invalid strategy settings")
)

// Exchange rejection messages that signal local state drift.
const (
	alreadyClosedMsg = "filled or cancelled"
	stalePriceMsg    = "a better price is now available"
)

// ClassifyExecutionError tags exchange rejections that indicate local state
// drift with ErrOrderAlreadyClosed or ErrStalePrice. Other errors pass through.
func ClassifyExecutionError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderAlreadyClosed) || errors.Is(err, ErrStalePrice) {
		return err
	}
	switch msg := err.Error(); {
	case strings.Contains(msg, alreadyClosedMsg):
		return fmt.Errorf("%w: %w", ErrOrderAlreadyClosed, err)
	case strings.Contains(msg, stalePriceMsg):
		return fmt.Errorf("%w: %w", ErrStalePrice, err)
	}
	return err
}
