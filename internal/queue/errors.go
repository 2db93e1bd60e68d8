package queue

import "fmt"

const CodeQueueIO = "E_QUEUE_IO"

// IOError is returned when the queue cannot be read from or written to its store.
// The persisted list is left as it was before the failed operation.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("queue %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error        { return e.Err }
func (e *IOError) ErrorCode() string    { return CodeQueueIO }
func (e *IOError) ErrorMessage() string { return e.Err.Error() }
