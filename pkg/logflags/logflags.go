package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var loader = false
var search = false
var store = false
var cmd = false

var logOut io.WriteCloser

var textFormatterInstance = &textFormatter{}

// makeLogger returns the logger of layer at the given level.
func makeLogger(layer string, level logrus.Level) Logger {
	var out io.Writer
	if logOut != nil {
		out = logOut
	}
	if f := factory; f != nil {
		return f(layer, level, out)
	}
	if out == nil {
		out = os.Stderr
	}
	logger := &logrus.Logger{
		Out:       out,
		Formatter: textFormatterInstance,
		Hooks:     make(logrus.LevelHooks),
		Level:     level,
	}
	return &logrusLogger{logger.WithField("layer", layer)}
}

// layerLogger returns a logger that emits debug output when enabled is set
// and only errors otherwise.
func layerLogger(layer string, enabled bool) Logger {
	if enabled {
		return makeLogger(layer, logrus.DebugLevel)
	}
	return makeLogger(layer, logrus.ErrorLevel)
}

// Loader returns true if the format loaders should log.
func Loader() bool {
	return loader
}

// LoaderLogger returns a logger for the loader package.
func LoaderLogger() Logger {
	return layerLogger("loader", loader)
}

// Search returns true if the search engine and scheduler should log.
func Search() bool {
	return search
}

// SearchLogger returns a logger for the search package. Section faults are
// logged at warning level, which is emitted even when the layer is disabled.
func SearchLogger() Logger {
	if search {
		return makeLogger("search", logrus.DebugLevel)
	}
	return makeLogger("search", logrus.WarnLevel)
}

// Store returns true if the gadget store should log.
func Store() bool {
	return store
}

// StoreLogger returns a logger for the gadget package.
func StoreLogger() Logger {
	return layerLogger("gadget", store)
}

// Cmd returns true if the command line layer should log.
func Cmd() bool {
	return cmd
}

// CmdLogger returns a logger for the command line layer.
func CmdLogger() Logger {
	return layerLogger("cmd", cmd)
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
//
// Output of the standard log package, which some format parsers write to,
// is discarded unless the loader layer is enabled.
func Setup(logFlag bool, logstr, logDest string) error {
	log.SetFlags(0)
	log.SetOutput(io.Discard)
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "ropfind-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	if !logFlag {
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "search"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "loader":
			loader = true
		case "search":
			search = true
		case "gadget":
			store = true
		case "cmd":
			cmd = true
		case "all":
			loader, search, store, cmd = true, true, true, true
		default:
			return fmt.Errorf("unknown log component %q (see 'ropfind help log')", logcmd)
		}
	}
	if loader {
		log.SetOutput(stdLogWriter{})
	}
	return nil
}

// stdLogWriter forwards lines of the standard logger to the loader layer.
type stdLogWriter struct{}

func (stdLogWriter) Write(p []byte) (int, error) {
	LoaderLogger().Debugf("%s", strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct {
}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *strings.Builder = new(strings.Builder)

	fmt.Fprintf(b, "%s %s ", entry.Time.Format("2006-01-02T15:04:05Z07:00"), strings.ToLower(entry.Level.String()))
	if layer, ok := entry.Data["layer"]; ok {
		fmt.Fprintf(b, "%v ", layer)
	}
	b.WriteString(entry.Message)
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k != "layer" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}
