// Package output renders gadget sets as text or JSON, to the console and
// optionally to a file.
package output

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"

	"github.com/ropfind/ropfind/pkg/binimg"
	"github.com/ropfind/ropfind/pkg/gadget"
	"github.com/ropfind/ropfind/pkg/search"
)

// Format is an output format.
type Format uint8

const (
	FormatText Format = iota
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatJSON:
		return "json"
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// ParseFormat converts the name of an output format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown output format %q", s)
}

// Options controls how gadgets are rendered.
type Options struct {
	Format Format
	// AddrWidth is the number of hex digits of addresses in text output.
	AddrWidth int
}

// OptionsFor returns the options used to print the gadgets of img.
func OptionsFor(img *binimg.Image, format Format) Options {
	opts := Options{Format: format, AddrWidth: 8}
	if img.Arch.Is64() {
		opts.AddrWidth = 16
	}
	return opts
}

type palette struct {
	addr, insn, term, sep func(a ...interface{}) string
}

func newPalette(enabled bool) *palette {
	mk := func(attrs ...color.Attribute) func(a ...interface{}) string {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return &palette{
		addr: mk(color.FgGreen),
		insn: mk(color.FgHiWhite),
		term: mk(color.FgRed, color.Bold),
		sep:  mk(color.Faint),
	}
}

// line renders g as "0x0000000000401000: pop rdi ; ret".
func (p *palette) line(g *gadget.Gadget, opts Options) string {
	var b strings.Builder
	b.WriteString(p.addr(fmt.Sprintf("0x%0*x", opts.AddrWidth, g.Addr)))
	b.WriteString(": ")
	for i, m := range g.Mnemonics() {
		if i > 0 {
			b.WriteString(p.sep(gadget.Separator))
		}
		if i == len(g.Instructions)-1 {
			b.WriteString(p.term(m))
		} else {
			b.WriteString(p.insn(m))
		}
	}
	return b.String()
}

func writeText(w io.Writer, set gadget.Set, opts Options, colors bool) error {
	p := newPalette(colors)
	for i := range set {
		if _, err := fmt.Fprintln(w, p.line(&set[i], opts)); err != nil {
			return err
		}
	}
	return nil
}

type jsonGadget struct {
	Address      string   `json:"address"`
	Section      string   `json:"section"`
	Size         int      `json:"size"`
	Terminator   string   `json:"terminator"`
	Instructions []string `json:"instructions"`
	Bytes        string   `json:"bytes"`
}

func writeJSON(w io.Writer, set gadget.Set) error {
	records := make([]jsonGadget, len(set))
	for i := range set {
		g := &set[i]
		var raw []byte
		for _, ins := range g.Instructions {
			raw = append(raw, ins.Raw...)
		}
		records[i] = jsonGadget{
			Address:      fmt.Sprintf("%#x", g.Addr),
			Section:      g.Section,
			Size:         g.Size(),
			Terminator:   g.Terminator.String(),
			Instructions: g.Mnemonics(),
			Bytes:        hex.EncodeToString(raw),
		}
	}
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// Summary describes the outcome of a search in one line.
func Summary(res *search.Result) string {
	s := fmt.Sprintf("%s gadgets found in %s of code (%d executable sections) in %v",
		humanize.Comma(int64(len(res.Gadgets))), humanize.IBytes(res.Stats.Bytes),
		res.Stats.Sections, res.Stats.Elapsed.Round(time.Millisecond))
	if res.Faults != nil {
		s += ", some sections failed"
	}
	return s
}
