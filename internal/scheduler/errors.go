package scheduler

import "fmt"

// recoveredError turns a recover() value into an error so a panicking task
// counts as a failure rather than taking the scheduler down with it.
func recoveredError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("task panicked: %w", err)
	}
	return fmt.Errorf("task panicked: %v", r)
}
