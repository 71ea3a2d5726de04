package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

const RopfindMainPackagePath = "github.com/ropfind/ropfind/cmd/ropfind"

var Verbose bool
var NOTimeout bool
var Race bool
var TestSet, TestRegex string

func NewMakeCommands() *cobra.Command {
	RootCommand := &cobra.Command{
		Use:   "make.go",
		Short: "make script for ropfind.",
	}

	RootCommand.AddCommand(&cobra.Command{
		Use:   "build",
		Short: "Build ropfind",
		Run: func(cmd *cobra.Command, args []string) {
			execute("go", "build", buildFlags(), RopfindMainPackagePath)
		},
	})

	RootCommand.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Installs ropfind",
		Run: func(cmd *cobra.Command, args []string) {
			execute("go", "install", buildFlags(), RopfindMainPackagePath)
			fmt.Printf("installed %s\n", installedExecutablePath())
		},
	})

	RootCommand.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Uninstalls ropfind",
		Run: func(cmd *cobra.Command, args []string) {
			execute("go", "clean", "-i", RopfindMainPackagePath)
		},
	})

	test := &cobra.Command{
		Use:   "test",
		Short: "Tests ropfind",
		Long: `Tests ropfind.

Use the flags -s and -r to specify which tests to run. Specifying nothing will run all tests.
`,
		Run: testCmd,
	}
	test.PersistentFlags().BoolVarP(&Verbose, "verbose", "v", false, "Verbose tests")
	test.PersistentFlags().BoolVarP(&NOTimeout, "timeout", "t", false, "Set infinite timeouts")
	test.PersistentFlags().BoolVarP(&Race, "race", "", false, "Enable the race detector")
	test.PersistentFlags().StringVarP(&TestSet, "test-set", "s", "", `Select the set of tests to run, one of either:
	all		tests all packages
	core		tests arch, search and gadget
	loaders		tests loader, elfwriter and mapfile
	package-name	test the specified package only
`)
	test.PersistentFlags().StringVarP(&TestRegex, "test-run", "r", "", `Only runs the tests matching the specified regex. This option can only be specified if testset is a single package`)

	RootCommand.AddCommand(test)

	RootCommand.AddCommand(&cobra.Command{
		Use:   "gen-usage-docs",
		Short: "Writes the command line documentation to Documentation/usage",
		Run: func(cmd *cobra.Command, args []string) {
			execute("go", "run", "_scripts/gen-usage-docs.go")
		},
	})

	return RootCommand
}

// flatten turns strings and string slices into an argument list, empty
// strings are dropped.
func flatten(v []interface{}) []string {
	r := []string{}
	for _, s := range v {
		switch s := s.(type) {
		case []string:
			r = append(r, s...)
		case string:
			if s != "" {
				r = append(r, s)
			}
		}
	}
	return r
}

func command(name string, args []interface{}) *exec.Cmd {
	x := exec.Command(name, flatten(args)...)
	x.Env = os.Environ()
	return x
}

// run runs name with args attached to the standard streams and exits if it
// fails. The command line is echoed unless quiet is set.
func run(quiet bool, name string, args ...interface{}) {
	x := command(name, args)
	if !quiet {
		quoted := append([]string(nil), x.Args[1:]...)
		for i, arg := range quoted {
			if strings.ContainsAny(arg, " \t") {
				quoted[i] = strconv.Quote(arg)
			}
		}
		fmt.Println(name, strings.Join(quoted, " "))
	}
	x.Stdout = os.Stdout
	x.Stderr = os.Stderr
	if err := x.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			os.Exit(1)
		}
		log.Fatal(err)
	}
}

func execute(name string, args ...interface{}) {
	run(false, name, args...)
}

// output returns the standard output of name.
func output(name string, args ...interface{}) string {
	out, err := command(name, args).Output()
	if err != nil {
		log.Fatalf("%s %v: %v", name, args, err)
	}
	return string(out)
}

func installedExecutablePath() string {
	if gobin := os.Getenv("GOBIN"); gobin != "" {
		return filepath.Join(gobin, "ropfind")
	}
	gopath := strings.Split(output("go", "env", "GOPATH"), string(os.PathListSeparator))
	return filepath.Join(strings.TrimSpace(gopath[0]), "bin", "ropfind")
}

// buildFlags keeps the VCS stamp, the version command reads the revision
// from it.
func buildFlags() []string {
	return []string{"-trimpath", "-buildvcs=auto"}
}

func testFlags() []string {
	testFlags := []string{"-count", "1"}
	if Verbose {
		testFlags = append(testFlags, "-v")
	}
	if Race {
		testFlags = append(testFlags, "-race")
	}
	if NOTimeout {
		testFlags = append(testFlags, "-timeout", "0")
	} else if os.Getenv("CI") == "true" {
		// Make test timeout shorter than the CI one so that Go can report which test hangs.
		testFlags = append(testFlags, "-timeout", "9m")
	}
	return testFlags
}

func testCmd(cmd *cobra.Command, args []string) {
	if TestSet == "" {
		if TestRegex != "" {
			fmt.Printf("Can not use --test-run without --test-set\n")
			os.Exit(1)
		}
		TestSet = "all"
	}

	testPackages := testSetToPackages(TestSet)
	if len(testPackages) == 0 {
		fmt.Printf("Unknown test set %q\n", TestSet)
		os.Exit(1)
	}

	if TestRegex != "" && len(testPackages) != 1 {
		fmt.Printf("Can not use test-run with test set %q\n", TestSet)
		os.Exit(1)
	}

	if len(testPackages) > 3 {
		run(true, "go", "test", testFlags(), testPackages)
	} else if TestRegex != "" {
		execute("go", "test", testFlags(), testPackages, "-run="+TestRegex)
	} else {
		execute("go", "test", testFlags(), testPackages)
	}
}

func testSetToPackages(testSet string) []string {
	const pkg = "github.com/ropfind/ropfind/pkg/"
	switch testSet {
	case "", "all":
		return allPackages()

	case "core":
		return []string{pkg + "arch", pkg + "search", pkg + "gadget"}

	case "loaders":
		return []string{pkg + "loader", pkg + "elfwriter", pkg + "mapfile"}

	default:
		for _, p := range allPackages() {
			if p == testSet || strings.HasSuffix(p, "/"+testSet) {
				return []string{p}
			}
		}
		return nil
	}
}

func allPackages() []string {
	r := []string{}
	for _, dir := range strings.Split(output("go", "list", "./..."), "\n") {
		dir = strings.TrimSpace(dir)
		if dir == "" || strings.Contains(dir, "/_scripts") {
			continue
		}
		r = append(r, dir)
	}
	sort.Strings(r)
	return r
}

func main() {
	NewMakeCommands().Execute()
}
