// Package auth decides which peers may open associations.
//
// It holds no policy storage; callers build validators from configuration.
package auth

import (
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates the calling AE title of an association request.
type Validator interface {
	Validate(callingAE string) error
}

// AllowList admits only the listed AE titles. Titles compare after trimming
// the space padding peers put on the wire.
type AllowList []string

func (a AllowList) Validate(callingAE string) error {
	callingAE = strings.TrimSpace(callingAE)
	if callingAE == "" {
		return ErrUnauthorized
	}
	for _, ae := range a {
		if strings.TrimSpace(ae) == callingAE {
			return nil
		}
	}
	return ErrUnauthorized
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(callingAE string) error

func (f FuncValidator) Validate(callingAE string) error {
	return f(callingAE)
}
