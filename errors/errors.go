// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package errors re-exports github.com/pkg/errors so the rest of the tree
// imports a single local path, the same indirection the teacher's own
// "github.com/gopcua/opcua/errors" package provides over the same
// upstream library.
package errors

import "github.com/pkg/errors"

// Errorf formats according to a format specifier and returns the string
// as an error annotated with a stack trace at the point it was called.
func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Wrap annotates err with a message and a stack trace at the point Wrap
// is called. It returns nil if err is nil.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf annotates err with the format specifier and a stack trace at the
// point Wrapf is called. It returns nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Cause returns the underlying cause of err, if possible.
func Cause(err error) error {
	return errors.Cause(err)
}

// New returns an error with the supplied message and a stack trace.
func New(message string) error {
	return errors.New(message)
}
