package main

import (
	"os"

	"github.com/chad-deng/openapi-testgen/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
