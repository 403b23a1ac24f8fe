package main

import (
	"os"

	"github.com/detectra/detectra/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
