package errors

import "fmt"

// BlockfsError is a sentinel error kind returned at a verb boundary. Unlike
// the teacher's errno shim, blockfs doesn't need to track syscall-level
// codes across platforms: the specification defines its own closed set of
// error kinds, so those are what's named here.
type BlockfsError string

const ErrAlreadyExists = BlockfsError("object already exists")
const ErrNotFound = BlockfsError("no such file or directory")
const ErrBadPath = BlockfsError("bad path")
const ErrNotDirectory = BlockfsError("not a directory")
const ErrNotFile = BlockfsError("not a regular file")
const ErrNameTooLong = BlockfsError("file name too long")
const ErrNoSpace = BlockfsError("no space left on device")
const ErrSizeTooBig = BlockfsError("size too big")
const ErrNegativeSize = BlockfsError("negative size is not allowed")
const ErrDirNotEmpty = BlockfsError("directory not empty")
const ErrBusy = BlockfsError("object is open, close it first")
const ErrBadID = BlockfsError("incorrect id")
const ErrIO = BlockfsError("input/output error")
const ErrNotMounted = BlockfsError("not mounted")

func (e BlockfsError) Error() string {
	return string(e)
}

func (e BlockfsError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), message),
		originalError: e,
	}
}

func (e BlockfsError) WrapError(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: e,
	}
}
