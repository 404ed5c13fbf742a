package main

import (
	"os"

	acctlcmd "github.com/telekom/acctl/pkg/acctl/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := acctlcmd.DefaultConfig()
	cfg.Args = args
	return acctlcmd.Execute(cfg)
}
