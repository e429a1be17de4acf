package main

import (
	"os"

	"github.com/golemfactory/gwasm-runner/cmd/gwasmrunner"
)

// Statically-populated build metadata, set at link time via -ldflags -X.
var date, vers, hash string

func main() {
	os.Exit(gwasmrunner.Execute(gwasmrunner.RootCommandConfig{
		Version: gwasmrunner.Version{Date: date, Vers: vers, Hash: hash},
	}))
}
