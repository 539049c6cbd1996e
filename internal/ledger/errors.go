package ledger

import "fmt"

// IOError is a failure of the ledger's backing store. It is fatal for a
// sync run and never confused with a delivery failure.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ledger %s failed", e.Op)
	}
	return fmt.Sprintf("ledger %s failed: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is matches any IOError
func (e *IOError) Is(target error) bool {
	_, ok := target.(*IOError)
	return ok
}

// ErrLedgerIO is the sentinel for errors.Is checks
var ErrLedgerIO = &IOError{}

func ioError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}
