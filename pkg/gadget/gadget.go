// Package gadget holds the gadgets found by the search and implements the
// final ordering and text based deduplication of the result set.
package gadget

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/samber/lo"

	"github.com/ropfind/ropfind/pkg/arch"
	"github.com/ropfind/ropfind/pkg/logflags"
)

// Separator is placed between instructions in the text of a gadget.
const Separator = " ; "

// Gadget is a sequence of contiguous instructions ending with a
// terminator. Gadgets are never modified after the search creates them.
type Gadget struct {
	// Addr is the address of the first instruction.
	Addr uint64
	// Section is the name of the section the gadget was found in, and
	// SectionAddr its start address.
	Section     string
	SectionAddr uint64

	Instructions []arch.Instruction
	Terminator   arch.TerminatorClass
}

// Size returns the number of bytes spanned by the gadget.
func (g *Gadget) Size() int {
	return lo.SumBy(g.Instructions, func(ins arch.Instruction) int { return ins.Len })
}

// End returns the address just past the terminator.
func (g *Gadget) End() uint64 {
	return g.Addr + uint64(g.Size())
}

// Mnemonics returns the text of each instruction.
func (g *Gadget) Mnemonics() []string {
	r := make([]string, len(g.Instructions))
	for i := range g.Instructions {
		r[i] = g.Instructions[i].Text()
	}
	return r
}

// Text returns the canonical, address independent form of the gadget.
func (g *Gadget) Text() string {
	return strings.Join(g.Mnemonics(), Separator)
}

func (g *Gadget) String() string {
	return fmt.Sprintf("%#x: %s", g.Addr, g.Text())
}

// Set is an ordered list of gadgets.
type Set []Gadget

func less(a, b *Gadget) bool {
	if a.SectionAddr != b.SectionAddr {
		return a.SectionAddr < b.SectionAddr
	}
	if a.Addr != b.Addr {
		return a.Addr < b.Addr
	}
	return a.End() < b.End()
}

// Sort orders s by section address, then start address, then end address.
func Sort(s Set) {
	sort.SliceStable(s, func(i, j int) bool { return less(&s[i], &s[j]) })
}

// Dedup returns the gadgets of s whose text was not seen earlier in s. The
// first gadget of every text is kept, so Dedup of a sorted set is sorted.
func Dedup(s Set) Set {
	seen := make(map[uint64][]string, len(s))
	r := make(Set, 0, len(s))
	for i := range s {
		text := s[i].Text()
		h := xxhash.Sum64String(text)
		if lo.Contains(seen[h], text) {
			continue
		}
		seen[h] = append(seen[h], text)
		r = append(r, s[i])
	}
	return r
}

// Collect merges the per section results of the search into a single
// sorted set, dropping duplicates when unique is set.
func Collect(partials [][]Gadget, unique bool) Set {
	n := lo.SumBy(partials, func(p []Gadget) int { return len(p) })
	all := make(Set, 0, n)
	for _, p := range partials {
		all = append(all, p...)
	}
	Sort(all)
	if unique {
		all = Dedup(all)
		logflags.StoreLogger().Debugf("%d unique gadgets out of %d", len(all), n)
	}
	return all
}
