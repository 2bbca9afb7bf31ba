package main

import (
	"os"

	"github.com/foursyz/policyd/cmd/policyctl/cli"
)

func main() {
	os.Exit(cli.Execute())
}
