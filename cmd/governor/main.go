package main

import (
	"os"

	"github.com/tkingovr/agent-governor/cmd/governor/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
