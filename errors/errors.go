// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package errors wraps pkg/errors and adds error codes, so that callers can
// tell a run-fatal condition from one that only costs a single record.
package errors

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Code is an error code which can be used to check against a given error. For
// example, see the Is() method.
type Code string

const (
	ErrUncoded Code = "Uncoded"

	// Fatal to the whole run.
	ErrInvalidManifest   Code = "InvalidManifest"
	ErrUnsupportedFormat Code = "UnsupportedFormat"
	ErrSchemaMismatch    Code = "SchemaMismatch"

	// Fatal to a single data file.
	ErrMalformedHeader Code = "MalformedHeader"
	ErrStreamBroken    Code = "StreamBroken"
	ErrObjectNotFound  Code = "ObjectNotFound"

	// Cost a single record.
	ErrUnknownColumnType Code = "UnknownColumnType"
	ErrMalformedValue    Code = "MalformedValue"
	ErrMissingTimestamp  Code = "MissingTimestamp"
)

func New(code Code, message string) error {
	return errors.WithStack(codedError{
		Code:    code,
		Message: message,
	})
}

// Newf is New with a format string.
func Newf(code Code, format string, args ...interface{}) error {
	return errors.WithStack(codedError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	})
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func Cause(err error) error {
	return errors.Cause(err)
}

func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Is is a fork of the Is() method from `pkg/errors` which takes as its target
// an error Code instead of an error.
func Is(err error, target Code) bool {
	match := codedError{
		Code: target,
	}
	return errors.Is(err, match)
}

// CodeOf returns the code carried by err, or ErrUncoded.
func CodeOf(err error) Code {
	var ce codedError
	if errors.As(err, &ce) && ce.Code != "" {
		return ce.Code
	}
	return ErrUncoded
}

// Fatal reports whether err must stop the whole run rather than a single
// file or record.
func Fatal(err error) bool {
	switch CodeOf(err) {
	case ErrInvalidManifest, ErrUnsupportedFormat, ErrSchemaMismatch:
		return true
	}
	return false
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func WithMessage(err error, message string) error {
	return errors.WithMessage(err, message)
}

func WithMessagef(err error, format string, args ...interface{}) error {
	return errors.WithMessagef(err, format, args...)
}

func WithStack(err error) error {
	return errors.WithStack(err)
}

func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

func Wrapf(err error, fmt string, args ...interface{}) error {
	return errors.Wrapf(err, fmt, args...)
}

// codedError is the fundamental type used by this package to provide coded
// errors.
type codedError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Wrapped string `json:"wrapped,omitempty"`
}

func (ce codedError) Error() string {
	if ce.Wrapped != "" {
		return ce.Wrapped
	}
	return ce.Message
}

func (ce codedError) Is(err error) bool {
	if e, ok := err.(codedError); ok && ce.Code == e.Code {
		return true
	}
	return false
}

// MarshalJSON returns err as a json object (as a string) carrying its code,
// the innermost message and the full wrapped message. Uncoded errors get an
// empty code.
func MarshalJSON(err error) string {
	cause := Cause(err)

	var out *codedError
	switch v := cause.(type) {
	case codedError:
		v.Wrapped = err.Error()
		out = &v
	default:
		out = &codedError{
			Message: cause.Error(),
			Wrapped: err.Error(),
		}
	}

	j, jerr := json.Marshal(out)
	if jerr != nil {
		return out.Error()
	}
	return string(j)
}
