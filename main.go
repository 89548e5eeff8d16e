package main

import (
	"os"

	"github.com/nmi/minivmm/flag"
)

func main() {
	os.Exit(flag.Run(os.Args[1:], os.Stdout, os.Stderr))
}
