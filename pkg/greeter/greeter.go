// Package greeter is a minimal sample program used as a debuggee in
// integration tests and examples. Launching it under an adapter gives a
// predictable program with known output and known line numbers for
// breakpoints.
package greeter

import (
	"fmt"
	"io"
)

// DefaultNames is the fixed sequence the sample program greets.
var DefaultNames = []string{"Alice", "Bob", "Charlie"}

// Format returns the greeting for a name. Any string is accepted,
// including the empty string.
func Format(name string) string {
	return "Hello, " + name + "!"
}

// Greet writes one greeting line per name, in order. An empty list
// writes nothing.
func Greet(w io.Writer, names []string) error {
	for _, name := range names {
		if _, err := fmt.Fprintln(w, Format(name)); err != nil {
			return err
		}
	}
	return nil
}
