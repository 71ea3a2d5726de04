//go:build ignore

package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra/doc"

	"github.com/ropfind/ropfind/cmd/ropfind/cmds"
)

const defaultUsageDir = "./Documentation/usage"

func main() {
	usageDir := defaultUsageDir
	if len(os.Args) > 1 {
		usageDir = os.Args[1]
	}
	if err := os.MkdirAll(usageDir, 0755); err != nil {
		log.Fatal(err)
	}
	root := cmds.New(nil)
	root.DisableAutoGenTag = true
	if err := doc.GenMarkdownTree(root, usageDir); err != nil {
		log.Fatal(err)
	}

	// GenMarkdownTree ignores additional help topic commands, so we have to do this manually
	logCmd, _, err := cmds.New(nil).Find([]string{"log"})
	if err != nil {
		log.Fatal(err)
	}
	logCmd.DisableAutoGenTag = true
	if err := doc.GenMarkdownTree(logCmd, usageDir); err != nil {
		log.Fatal(err)
	}
	fh, err := os.OpenFile(filepath.Join(usageDir, "ropfind.md"), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		log.Fatalf("appending to ropfind.md: %v", err)
	}
	defer fh.Close()
	fmt.Fprintln(fh, "* [ropfind log](ropfind_log.md)\t - Help about logging flags")
}
