// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

package errutil

import (
	"errors"

	"github.com/samber/oops"
)

// Opaque marks err as the cause of a new failure. Wrapping the result with
// oops.Code makes that outer code the one Code reports, because oops
// otherwise reports the deepest code in a chain. errors.Is and errors.As
// still reach err, except for oops.OopsError itself.
//
//	return oops.Code("ACCOUNT_CREATE_FAILED").Wrap(errutil.Opaque(err))
func Opaque(err error) error {
	if err == nil {
		return nil
	}
	return &opaqueError{err: err}
}

type opaqueError struct {
	err error
}

func (o *opaqueError) Error() string {
	return o.err.Error()
}

func (o *opaqueError) Is(target error) bool {
	return errors.Is(o.err, target)
}

func (o *opaqueError) As(target any) bool {
	if _, ok := target.(*oops.OopsError); ok {
		return false
	}
	return errors.As(o.err, target)
}

// CauseCode returns the code of the outermost cause hidden by Opaque, or ""
// if err has none.
func CauseCode(err error) string {
	for err != nil {
		if o, ok := err.(*opaqueError); ok { //nolint:errorlint // walking the chain by hand
			return Code(o.err)
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// causeContext returns the oops context of the cause hidden by Opaque.
func causeContext(err error) map[string]any {
	for err != nil {
		if o, ok := err.(*opaqueError); ok { //nolint:errorlint // walking the chain by hand
			if oopsErr, ok := oops.AsOops(o.err); ok {
				return oopsErr.Context()
			}
			return nil
		}
		err = errors.Unwrap(err)
	}
	return nil
}
