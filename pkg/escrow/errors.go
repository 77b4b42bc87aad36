package escrow

import "errors"

var (
	ErrAlreadyExists         = errors.New("escrow already exists")
	ErrZeroAmount            = errors.New("escrow amount is zero")
	ErrInvalidSolver         = errors.New("reserved solver must not be the zero address")
	ErrDoesNotExist          = errors.New("escrow does not exist")
	ErrAlreadyReleased       = errors.New("escrow already released or cancelled")
	ErrNotExpiredYet         = errors.New("escrow not expired yet")
	ErrExpired               = errors.New("escrow expired")
	ErrUnauthorizedRequester = errors.New("caller is not the escrow requester")
	ErrAmountMismatch        = errors.New("amount below stored requirements")
	ErrTokenMismatch         = errors.New("token does not match stored requirements")
	ErrEscrowAlreadyCreated  = errors.New("escrow already created for these requirements")
	ErrInvalidSignature      = errors.New("invalid claim signature")
	ErrClaimDisabled         = errors.New("claim path disabled in this deployment")
	ErrProofDisabled         = errors.New("fulfillment proof path disabled in this deployment")
)
