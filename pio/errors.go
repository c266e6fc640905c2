package pio

import (
	"fmt"

	perrors "github.com/go-sif/piotest/errors"
)

// Status codes returned by the I/O library, numbered as in netCDF
const (
	NoErr        = 0
	EBadID       = -33  // not a valid file id
	EExist       = -35  // file exists and clobbering was not requested
	EInval       = -36  // invalid argument
	EPerm        = -37  // write to a read-only file
	ENotInDefine = -38  // operation requires define mode
	EInDefine    = -39  // operation not allowed in define mode
	EInvalCoords = -40  // index out of range
	ENameInUse   = -42  // a dimension, variable or attribute already has this name
	ENotAtt      = -43  // attribute not found
	EBadType     = -45  // unknown type, or values of the wrong type
	EBadDim      = -46  // not a valid dimension id
	EUnlimPos    = -47  // unlimited dimension is not the first of a variable
	ENotVar      = -49  // not a valid variable id
	EGlobal      = -50  // operation not allowed on the global pseudo-variable
	ENotNC       = -51  // not a file of the requested flavor
	EUnlimit     = -54  // more than one unlimited dimension
	EEdge        = -57  // wrong number of values
	EStorage     = -101 // the storage backend failed
	EBadIOType   = perrors.EBadIOType
)

// Error is a failure reported by the I/O library. Every task of a collective
// operation receives the same Error.
type Error struct {
	Code int
	Op   string
	Msg  string
}

// Error returns a textual representation of this Error
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (code %d)", e.Op, e.Msg, e.Code)
}

// ErrorCode returns the library status code
func (e *Error) ErrorCode() int {
	return e.Code
}

func newError(code int, op string, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// commError marks a failure of the communicator underneath the library
func commError(err error) error {
	if err == nil {
		return nil
	}
	return &perrors.CommError{Err: err}
}
