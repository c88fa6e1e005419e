// Command greeter prints three greeting lines. It exists as a known
// debuggee for exercising mcpdap sessions by hand.
package main

import (
	"fmt"
	"os"

	"mcpdap/pkg/greeter"
)

func main() {
	if err := greeter.Greet(os.Stdout, greeter.DefaultNames); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
