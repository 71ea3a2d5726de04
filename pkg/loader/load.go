// Package loader parses executable files into binimg.Image values.
//
// Loaders never copy section contents: the Data of every returned section is
// a sub-slice of the buffer passed to Load. Every section that refers to file
// contents is checked against the length of the buffer before it is sliced,
// a section that does not fit fails the whole load with ErrMalformed.
package loader

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/ropfind/ropfind/pkg/binimg"
	"github.com/ropfind/ropfind/pkg/logflags"
)

var (
	// ErrUnsupportedFormat is returned when the file magic is not recognised.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrUnsupportedArch is returned for machine types without a decoder, and
	// when a forced architecture does not match the file header.
	ErrUnsupportedArch = errors.New("unsupported architecture")
	// ErrMalformed is returned for truncated or inconsistent headers.
	ErrMalformed = errors.New("malformed file")
)

var (
	elfMagic    = []byte{0x7f, 'E', 'L', 'F'}
	peMagic     = []byte{'M', 'Z'}
	machoMagics = []uint32{
		0xfeedface, // MH_MAGIC
		0xfeedfacf, // MH_MAGIC_64
		0xcefaedfe, // MH_CIGAM
		0xcffaedfe, // MH_CIGAM_64
		0xcafebabe, // FAT_MAGIC
	}
)

// Detect returns the format of data based on its magic bytes.
func Detect(data []byte) binimg.Format {
	switch {
	case bytes.HasPrefix(data, elfMagic):
		return binimg.FormatELF
	case bytes.HasPrefix(data, peMagic):
		return binimg.FormatPE
	case len(data) >= 4:
		magic := binary.BigEndian.Uint32(data)
		for _, m := range machoMagics {
			if magic == m {
				return binimg.FormatMachO
			}
		}
	}
	return binimg.FormatUnknown
}

// Load parses data as an executable of the given format and architecture.
// The zero value of format and arch means they are detected from the file.
func Load(data []byte, format binimg.Format, arch binimg.Arch) (*binimg.Image, error) {
	if format == binimg.FormatUnknown {
		format = Detect(data)
	}

	var (
		img *binimg.Image
		err error
	)
	switch format {
	case binimg.FormatELF:
		img, err = loadELF(data, arch)
	case binimg.FormatPE:
		img, err = loadPE(data, arch)
	case binimg.FormatMachO:
		img, err = loadMachO(data, arch)
	case binimg.FormatRaw:
		img, err = loadRaw(data, arch)
	default:
		return nil, errors.WithStack(ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, err
	}

	for i, sec := range img.Sections {
		sec.Index = i
	}
	if logflags.Loader() {
		logger := logflags.LoaderLogger()
		logger.Debugf("loaded %s", img)
		for _, sec := range img.Sections {
			logger.Debugf("  %s", sec)
		}
	}
	return img, nil
}

// checkArch resolves the architecture found in a header against the one
// forced by the caller.
func checkArch(found, forced binimg.Arch) (binimg.Arch, error) {
	if found == binimg.ArchUnknown {
		return found, errors.WithStack(ErrUnsupportedArch)
	}
	if forced != binimg.ArchUnknown && forced != found {
		return found, errors.Wrapf(ErrUnsupportedArch, "file is %s, not %s", found, forced)
	}
	return found, nil
}

// fileRange returns data[off:off+size], or ErrMalformed if the range does
// not lie inside data.
func fileRange(data []byte, off, size uint64, what string) ([]byte, error) {
	n := uint64(len(data))
	if off > n || size > n-off {
		return nil, errors.Wrapf(ErrMalformed, "%s: range %#x+%#x exceeds file size %#x", what, off, size, n)
	}
	return data[off : off+size : off+size], nil
}
