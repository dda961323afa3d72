// main.go
//
// Entry point for the madsim CLI; all commands and flags live in cmd/.

package main

import (
	"github.com/imag1ne/madsim/cmd"
)

func main() {
	cmd.Execute()
}
