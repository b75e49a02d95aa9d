package main

import "fmt"

// exitError lets a subcommand pick the process exit code. silent suppresses
// the fatal-path log line, for commands that already reported the failure in
// their JSON output.
type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string {
	if e == nil {
		return ""
	}
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit %d", e.code)
}

func (e *exitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}
