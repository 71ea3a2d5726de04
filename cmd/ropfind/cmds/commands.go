package cmds

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ropfind/ropfind/pkg/arch"
	"github.com/ropfind/ropfind/pkg/binimg"
	"github.com/ropfind/ropfind/pkg/config"
	"github.com/ropfind/ropfind/pkg/loader"
	"github.com/ropfind/ropfind/pkg/logflags"
	"github.com/ropfind/ropfind/pkg/mapfile"
	"github.com/ropfind/ropfind/pkg/output"
	"github.com/ropfind/ropfind/pkg/search"
	"github.com/ropfind/ropfind/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// configPath replaces the default config file.
	configPath string

	// archName and formatName force the architecture and the container
	// format instead of detecting them.
	archName   binimg.Arch
	formatName binimg.Format

	maxSize  int
	maxInsn  int
	ropTypes arch.ClassSet
	profile  search.Profile
	unique   bool
	threads  int

	// imageBase moves the image, only used when the flag is given.
	imageBase uint64

	// outputPath is a file receiving a copy of the gadget list.
	outputPath   string
	outputFormat output.Format
	// quiet only writes the gadget list to outputPath.
	quiet   bool
	noColor bool

	// verbose makes the version command print the build information.
	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config

	// fs is where output files are created.
	fs afero.Fs = afero.NewOsFs()
)

const ropfindCommandLongDesc = `ropfind searches executables for ROP gadgets.

A gadget is a short sequence of instructions that ends with a control transfer
(a return by default, see --rop-types). ELF, PE and Mach-O files are recognized
from their header, anything else can be searched with --format raw and an
explicit --arch.

Defaults are read from the config file (see 'ropfind config') and from
ROPFIND_* environment variables, flags given on the command line win.`

// New returns an initialized command tree. c is the configuration loaded
// from the default config file and the environment.
func New(c *config.Config) *cobra.Command {
	conf = c
	if conf == nil {
		conf = &config.Config{}
	}
	archName, formatName = binimg.ArchUnknown, binimg.FormatUnknown
	ropTypes = arch.NewClassSet(arch.Return)
	profile = search.ProfileFast
	outputFormat = output.FormatText

	// Main ropfind root command.
	rootCommand = &cobra.Command{
		Use:           "ropfind [flags] <file>",
		Short:         "ropfind searches executables for ROP gadgets.",
		Long:          ropfindCommandLongDesc,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          findCmd,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'ropfind help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'ropfind help log').")
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Config file, replaces the default one.")

	rootCommand.PersistentFlags().Var(archFlag{&archName}, "arch", "Architecture: x86, x64, arm, arm64 (detected from the file by default).")
	rootCommand.PersistentFlags().Var(formatFlag{&formatName}, "format", "File format: elf, pe, macho, raw (detected from the file by default).")

	rootCommand.PersistentFlags().IntVarP(&maxSize, "max-size", "s", search.DefaultMaxSize, "Maximum number of bytes in a gadget.")
	rootCommand.PersistentFlags().IntVarP(&maxInsn, "max-insn", "r", search.DefaultMaxInsn, "Maximum number of instructions in a gadget, terminator included.")
	rootCommand.PersistentFlags().VarP(classSetFlag{&ropTypes}, "rop-types", "t", "Comma separated list of terminators: ret, call, jmp, int, iret, priv.")
	rootCommand.PersistentFlags().Var(profileFlag{&profile}, "profile", "Search profile: fast or complete.")
	rootCommand.PersistentFlags().BoolVarP(&unique, "unique", "u", false, "Only print the first gadget of every instruction sequence.")
	rootCommand.PersistentFlags().IntVarP(&threads, "threads", "n", search.DefaultThreads, "Number of sections searched in parallel.")
	rootCommand.PersistentFlags().Uint64Var(&imageBase, "imagebase", 0, "Load the image at this address.")

	rootCommand.PersistentFlags().StringVarP(&outputPath, "output", "o", "", "Also write the gadgets to this file.")
	rootCommand.PersistentFlags().Var(outputFormatFlag{&outputFormat}, "output-format", "Output format: text or json.")
	rootCommand.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the gadgets when --output is given.")
	rootCommand.PersistentFlags().BoolVarP(&noColor, "no-color", "", false, "Disable colored output.")

	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return logflags.Setup(log, logOutput, logDest)
	}
	rootCommand.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		logflags.Close()
	}

	// 'info' subcommand.
	infoCommand := &cobra.Command{
		Use:   "info <file>",
		Short: "Prints the sections of an executable.",
		Long: `Prints the format, architecture, image base and entry point of an executable,
followed by its sections. Executable sections are the ones searched for gadgets.`,
		Args: cobra.ExactArgs(1),
		RunE: infoCmd,
	}
	rootCommand.AddCommand(infoCommand)

	// 'config' subcommand.
	configCommand := &cobra.Command{
		Use:   "config",
		Short: "Manages the config file.",
		Long: `Manages the config file.

The config file is $XDG_CONFIG_HOME/ropfind/config.yml, or ~/.ropfind/config.yml
if that directory exists, or ~/.config/ropfind/config.yml. The --config flag
replaces it.`,
	}
	configCommand.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Creates a config file with every option commented out.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configFile()
			if err != nil {
				return err
			}
			if err := config.WriteDefaultConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			return nil
		},
	})
	configCommand.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Prints the options set by the config file and the environment.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), conf.String())
			return nil
		},
	})
	rootCommand.AddCommand(configCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ropfind\n%s\n", version.RopfindVersion)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	loader	Log the sections found in the input file
	search	Log the work split and the progress of every section (default)
	gadget	Log sorting and deduplication of the gadgets
	cmd	Log the options the search runs with
	all	Enable every component

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
This option will also redirect the log output of --log-output.
`,
	})

	return rootCommand
}

// loadConfig replaces the default configuration with the file given by
// --config.
func loadConfig() error {
	if configPath == "" {
		return nil
	}
	c, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	conf = c
	return nil
}

func configFile() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.GetConfigFilePath("config.yml")
}

// searchConfig builds the search configuration: defaults, then the config
// file and the environment, then the flags given on the command line.
func searchConfig(cmd *cobra.Command) (search.Config, error) {
	cfg := search.DefaultConfig()
	if err := conf.Apply(&cfg); err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("arch") {
		cfg.Arch = archName
	}
	if flags.Changed("format") {
		cfg.Format = formatName
	}
	if flags.Changed("max-size") {
		cfg.MaxSize = maxSize
	}
	if flags.Changed("max-insn") {
		cfg.MaxInsn = maxInsn
	}
	if flags.Changed("rop-types") {
		cfg.Types = ropTypes
	}
	if flags.Changed("profile") {
		cfg.Profile = profile
	}
	if flags.Changed("unique") {
		cfg.Unique = unique
	}
	if flags.Changed("threads") {
		cfg.Threads = threads
	}
	return cfg, nil
}

// loadImage reads and parses path. The returned file must be closed once the
// image is no longer used.
func loadImage(cmd *cobra.Command, path string) (*binimg.Image, *mapfile.File, error) {
	f, err := mapfile.Open(path)
	if err != nil {
		return nil, nil, err
	}
	img, err := loader.Load(f.Data, formatName, archName)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if cmd.Flags().Changed("imagebase") {
		img = img.Rebase(imageBase)
	}
	return img, f, nil
}

func findCmd(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	cfg, err := searchConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logflags.CmdLogger().Debugf("search options: %+v", cfg)

	img, f, err := loadImage(cmd, args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := search.Run(cmd.Context(), img, cfg)
	if err != nil {
		return err
	}

	sink := newSink(cmd.OutOrStdout())
	if outputPath != "" {
		if err := sink.TranscribeTo(fs, outputPath, quiet); err != nil {
			return err
		}
	}
	werr := sink.Write(res.Gadgets, output.OptionsFor(img, outputFormat))
	if cerr := sink.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return werr
	}

	stderr := cmd.ErrOrStderr()
	var merr *multierror.Error
	if errors.As(res.Faults, &merr) {
		for _, fault := range merr.Errors {
			fmt.Fprintf(stderr, "warning: %v\n", fault)
		}
	}
	fmt.Fprintln(stderr, output.Summary(res))
	return nil
}

func newSink(w io.Writer) *output.Sink {
	colors := conf.UseColor() && !noColor
	if w == os.Stdout {
		return output.Stdout(colors)
	}
	return output.NewSink(w, false)
}

func infoCmd(cmd *cobra.Command, args []string) error {
	img, f, err := loadImage(cmd, args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Format:     %s\n", img.Format)
	fmt.Fprintf(out, "Arch:       %s\n", img.Arch)
	fmt.Fprintf(out, "Image base: %#x\n", img.ImageBase)
	fmt.Fprintf(out, "Entry:      %#x\n", img.Entry)
	fmt.Fprintln(out)

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Name", "Address", "Size", "Exec"})
	table.SetAutoFormatHeaders(false)
	for _, sec := range img.Sections {
		exec := ""
		if sec.Executable {
			exec = "x"
		}
		table.Append([]string{
			sec.Name,
			fmt.Sprintf("%#x", sec.Addr),
			humanize.IBytes(sec.Size()),
			exec,
		})
	}
	table.Render()
	return nil
}
