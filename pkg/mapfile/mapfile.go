// Package mapfile gives read only access to the whole contents of a file,
// memory mapped where the platform allows it.
package mapfile

import (
	"fmt"
	"math"
	"os"

	"github.com/ropfind/ropfind/pkg/logflags"
)

// mapFile and unmapFile are set on platforms that support mmap.
var (
	mapFile   func(fd int, length int) ([]byte, error)
	unmapFile func(data []byte) error
)

// File is the contents of a file. Data must not be written to and must not
// be used after Close.
type File struct {
	Name   string
	Data   []byte
	mapped bool
}

// Open returns the contents of the file at path.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	size := fi.Size()
	if size > math.MaxInt {
		return nil, fmt.Errorf("%s is too large (%d bytes)", path, size)
	}

	if mapFile != nil && size > 0 {
		data, err := mapFile(int(f.Fd()), int(size))
		if err == nil {
			return &File{Name: path, Data: data, mapped: true}, nil
		}
		logflags.LoaderLogger().Debugf("could not map %s, reading it instead: %v", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &File{Name: path, Data: data}, nil
}

// Close releases the contents of the file.
func (f *File) Close() error {
	data := f.Data
	f.Data = nil
	if f.mapped {
		f.mapped = false
		return unmapFile(data)
	}
	return nil
}
