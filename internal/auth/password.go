package auth

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/domain"
)

type PasswordHasher interface {
	Hash(plain string) (string, error)
	Check(hashed, plain string) (bool, error)
}

// MaxPasswordBytes предел bcrypt; длиннее пароль не хешируется
const MaxPasswordBytes = 72

type BcryptHasher struct{ Cost int }

func NewBcryptHasher() *BcryptHasher { return &BcryptHasher{Cost: bcrypt.DefaultCost} }

func (h *BcryptHasher) Hash(plain string) (string, error) {
	if len(plain) > MaxPasswordBytes {
		return "", errors.Wrapf(domain.ErrInvalidInput, "password is longer than %d bytes", MaxPasswordBytes)
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.Cost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(b), nil
}

func (h *BcryptHasher) Check(hashed, plain string) (bool, error) {
	// сравнение в bcrypt усекает ввод до 72 байт; такой пароль не мог быть сохранён
	if len(plain) > MaxPasswordBytes {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "check password")
	}
	return true, nil
}
