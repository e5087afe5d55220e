package main

import (
	"os"

	"github.com/alpacax/ssmtunnel/cmd/ssmtunnel/command"
)

func main() {
	os.Exit(command.Execute())
}
