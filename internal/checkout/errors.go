package checkout

import (
	"errors"
	"fmt"
)

var (
	ErrCheckoutInProgress = errors.New("checkout already in progress for this cart")
	ErrAbandoned          = errors.New("checkout abandoned before confirmation")
	ErrEmptyCart          = errors.New("cart is empty, nothing to checkout")
	ErrMissingName        = errors.New("please enter the name on the card")
	ErrIncompletePayment  = errors.New("please complete all card details")
)

// ValidationError rejects a submission before any network call.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// AuthorizationError is a failure while requesting the authorization.
type AuthorizationError struct {
	Err     error
	Timeout bool
}

func (e *AuthorizationError) Error() string {
	if e.Timeout {
		return "payment authorization timed out"
	}
	return fmt.Sprintf("payment authorization failed: %v", e.Err)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// ConfirmationError is a decline or a failure while confirming.
type ConfirmationError struct {
	Err      error
	Declined bool
	Timeout  bool
}

func (e *ConfirmationError) Error() string {
	switch {
	case e.Timeout:
		return "payment confirmation timed out"
	case e.Declined:
		return e.Err.Error()
	default:
		return fmt.Sprintf("payment confirmation failed: %v", e.Err)
	}
}

func (e *ConfirmationError) Unwrap() error { return e.Err }
