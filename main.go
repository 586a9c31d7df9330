// The main package for the pinharvest executable.
package main

import (
	"github.com/jfaulkner/pinharvest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
