package main

import (
	"os"
)

func main() {
	cmd, o := newRootCmd()
	err := cmd.Execute()
	o.close()
	if err != nil {
		os.Exit(1)
	}
}
