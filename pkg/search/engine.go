package search

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ropfind/ropfind/pkg/arch"
	"github.com/ropfind/ropfind/pkg/binimg"
	"github.com/ropfind/ropfind/pkg/gadget"
)

// minDecodeCacheSize is the smallest number of decoded offsets remembered
// by an engine.
const minDecodeCacheSize = 256

type decodeResult struct {
	ins arch.Instruction
	ok  bool
}

// engine searches the gadgets of one section at a time. An engine is owned
// by a single worker.
type engine struct {
	arch *arch.Arch
	cfg  *Config

	sec   *binimg.Section
	cache *lru.Cache[int, decodeResult]

	// chain holds the instructions of the current fast chain in reverse
	// order, terminator first.
	chain   []arch.Instruction
	anchors int
}

func newEngine(a *arch.Arch, cfg *Config) *engine {
	size := 4 * cfg.MaxSize
	if size < minDecodeCacheSize {
		size = minDecodeCacheSize
	}
	cache, err := lru.New[int, decodeResult](size)
	if err != nil {
		panic(err)
	}
	return &engine{
		arch:  a,
		cfg:   cfg,
		cache: cache,
		chain: make([]arch.Instruction, 0, cfg.MaxInsn),
	}
}

// decode decodes the instruction at offset off of the current section.
// Candidate windows of neighbouring terminators overlap, so results are
// memoised by offset.
func (e *engine) decode(off int) (arch.Instruction, bool) {
	if r, ok := e.cache.Get(off); ok {
		return r.ins, r.ok
	}
	ins, ok := e.arch.Decode(e.sec.Data, off, e.sec.Addr+uint64(off))
	e.cache.Add(off, decodeResult{ins, ok})
	return ins, ok
}

// scan returns every gadget of sec.
func (e *engine) scan(sec *binimg.Section) []gadget.Gadget {
	e.sec = sec
	e.cache.Purge()
	defer func() { e.sec = nil }()

	var out []gadget.Gadget
	step := e.arch.Step
	for t := 0; t < len(sec.Data); t += step {
		term, ok := e.decode(t)
		if !ok || !e.cfg.Types.Has(term.Class) || term.Len > e.cfg.MaxSize {
			continue
		}
		e.anchors++
		switch e.cfg.Profile {
		case ProfileComplete:
			out = e.complete(out, t, term)
		default:
			out = e.fast(out, t, term)
		}
	}
	return out
}

// fast walks backwards from the terminator at t, one instruction at a time.
// At every boundary the shortest aligned instruction that ends exactly on
// the boundary is taken, and a gadget is emitted for each prefix of the
// chain. The walk stops at the first boundary with no such instruction.
func (e *engine) fast(out []gadget.Gadget, t int, term arch.Instruction) []gadget.Gadget {
	step := e.arch.Step
	e.chain = append(e.chain[:0], term)
	size := term.Len
	out = append(out, e.emitChain())

	b := t
	for len(e.chain) < e.cfg.MaxInsn {
		found := false
		for k := step; k <= e.arch.MaxInsnLen && k <= b && size+k <= e.cfg.MaxSize; k += step {
			ins, ok := e.decode(b - k)
			if ok && ins.Len == k && ins.Class == arch.None {
				e.chain = append(e.chain, ins)
				size += k
				b -= k
				found = true
				break
			}
		}
		if !found {
			break
		}
		out = append(out, e.emitChain())
	}
	return out
}

// emitChain converts the reversed chain into a gadget.
func (e *engine) emitChain() gadget.Gadget {
	n := len(e.chain)
	insns := make([]arch.Instruction, n)
	for i := range e.chain {
		insns[n-1-i] = e.chain[i]
	}
	return e.newGadget(insns)
}

// complete tries every aligned start offset in the window of MaxSize bytes
// that ends with the terminator at t, decoding forward from each.
func (e *engine) complete(out []gadget.Gadget, t int, term arch.Instruction) []gadget.Gadget {
	step := e.arch.Step
	end := t + term.Len
	lo := end - e.cfg.MaxSize
	if lo < 0 {
		lo = 0
	}
	if r := lo % step; r != 0 {
		lo += step - r
	}
	for s := lo; s <= t; s += step {
		if insns := e.forward(s, t, term); insns != nil {
			out = append(out, e.newGadget(insns))
		}
	}
	return out
}

// forward decodes from s and returns the instructions if they land exactly
// on the terminator at t without passing through another terminator.
func (e *engine) forward(s, t int, term arch.Instruction) []arch.Instruction {
	var insns []arch.Instruction
	for pos := s; pos < t; {
		if len(insns)+1 >= e.cfg.MaxInsn {
			return nil
		}
		ins, ok := e.decode(pos)
		if !ok || ins.Class != arch.None || pos+ins.Len > t {
			return nil
		}
		insns = append(insns, ins)
		pos += ins.Len
	}
	return append(insns, term)
}

func (e *engine) newGadget(insns []arch.Instruction) gadget.Gadget {
	return gadget.Gadget{
		Addr:         insns[0].Addr,
		Section:      e.sec.Name,
		SectionAddr:  e.sec.Addr,
		Instructions: insns,
		Terminator:   insns[len(insns)-1].Class,
	}
}
