package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrMismatch           = errors.New("payment intent does not match order")
	ErrGateway            = errors.New("payment gateway error")
	ErrInternal           = errors.New("internal error")
	ErrInvalidInput       = errors.New("invalid input")
	ErrDuplicate          = errors.New("already exists")
	ErrForbidden          = errors.New("access denied")
	ErrUnauthorized       = errors.New("not authorized")
	ErrEmailTaken         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
)
