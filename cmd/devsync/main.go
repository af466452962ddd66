// Command devsync discovers trading devices, tracks them in a local registry, and pushes their
// configuration to the coordination host.
package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes; failures that carry an API code map through api.ExitCode.
const (
	exitSuccess   = 0
	exitFailure   = 1
	exitUserError = 2
)

// exitError ends the process with a specific code after its message has been printed.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	root := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitUserError
	}
	return exitSuccess
}
