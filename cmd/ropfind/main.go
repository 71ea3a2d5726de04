package main

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/ropfind/ropfind/cmd/ropfind/cmds"
	"github.com/ropfind/ropfind/pkg/config"
)

func main() {
	conf, err := config.LoadConfig("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ropfind: %v\n", err)
		conf = &config.Config{}
	}

	cmd := cmds.New(conf)
	cmd.SetArgs(append(config.SplitFlags(conf.Flags), os.Args[1:]...))
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ropfind: %v\n", err)
		os.Exit(1)
	}
}
