// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nb

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes engine errors.
type ErrorKind int

const (
	// KindCapacity means an output buffer was too small. It is handled
	// internally by growing the buffer and retrying.
	KindCapacity ErrorKind = iota + 1

	// KindConfiguration means the engine was set up inconsistently, for
	// example two interactions requesting different exclusions.
	KindConfiguration

	// KindNumerical means the geometry makes minimum image computations
	// ill-defined (degenerate box, cutoff larger than half the box).
	KindNumerical

	// KindCompile means a synthesized kernel could not be compiled.
	KindCompile
)

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrCapacity      = errors.New("capacity exceeded")
	ErrConfiguration = errors.New("configuration error")
	ErrNumerical     = errors.New("numerical error")
	ErrCompile       = errors.New("kernel compilation error")
)

// String returns the name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindCapacity:
		return "capacity"
	case KindConfiguration:
		return "configuration"
	case KindNumerical:
		return "numerical"
	case KindCompile:
		return "compile"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindCapacity:
		return ErrCapacity
	case KindConfiguration:
		return ErrConfiguration
	case KindNumerical:
		return ErrNumerical
	case KindCompile:
		return ErrCompile
	}
	return nil
}

// Error is the error type returned by the engine packages.
type Error struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Op is the operation that failed, e.g. "addInteraction".
	Op string

	// Msg is a human-readable description.
	Msg string

	// Err is an optional underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nb: %s: %s: %s: %v", e.Kind, e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("nb: %s: %s: %s", e.Kind, e.Op, e.Msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// Configf returns a configuration error.
func Configf(op, format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Numericalf returns a numerical error.
func Numericalf(op, format string, args ...any) error {
	return &Error{Kind: KindNumerical, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// CapacityError reports how many entries were needed versus available.
type CapacityError struct {
	Buffer   string
	Needed   int
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("nb: capacity: %s needs %d entries, has %d", e.Buffer, e.Needed, e.Capacity)
}

// Is matches ErrCapacity.
func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacity
}

// KindOf returns the kind of err, or 0 if err is not an engine error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrCapacity) {
		return KindCapacity
	}
	if errors.Is(err, ErrCompile) {
		return KindCompile
	}
	return 0
}
