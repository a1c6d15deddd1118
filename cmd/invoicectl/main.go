package main

import (
	"os"

	"github.com/0gfoundation/0g-invoice-ledger/internal/cli"
)

var version = "dev"

func main() {
	cli.SetVersion(version)
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
