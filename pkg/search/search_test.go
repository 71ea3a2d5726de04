package search

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ropfind/ropfind/pkg/arch"
	"github.com/ropfind/ropfind/pkg/binimg"
	"github.com/ropfind/ropfind/pkg/gadget"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newImage(a binimg.Arch, sections ...*binimg.Section) *binimg.Image {
	for i, sec := range sections {
		sec.Index = i
		sec.Executable = true
	}
	return &binimg.Image{Arch: a, Format: binimg.FormatRaw, Sections: sections}
}

func section(name string, addr uint64, data []byte) *binimg.Section {
	return &binimg.Section{Name: name, Addr: addr, Data: data}
}

func run(t *testing.T, img *binimg.Image, cfg Config) *Result {
	t.Helper()
	res, err := Run(context.Background(), img, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Faults != nil {
		t.Fatalf("unexpected faults: %v", res.Faults)
	}
	return res
}

func rendered(s gadget.Set) []string {
	r := make([]string, len(s))
	for i := range s {
		r[i] = s[i].String()
	}
	return r
}

var profiles = []Profile{ProfileFast, ProfileComplete}

func TestPopRbpRet(t *testing.T) {
	code := []byte{0x5d, 0xc3}
	for len(code) < 16 {
		code = append(code, 0x90)
	}
	for _, p := range profiles {
		cfg := DefaultConfig()
		cfg.MaxInsn = 2
		cfg.MaxSize = 8
		cfg.Profile = p
		res := run(t, newImage(binimg.ArchX64, section(".text", 0x1000, code)), cfg)
		want := []string{"0x1000: pop rbp ; ret", "0x1001: ret"}
		if diff := cmp.Diff(want, rendered(res.Gadgets)); diff != "" {
			t.Fatalf("%s profile: mismatch (-want +got):\n%s", p, diff)
		}
		for _, g := range res.Gadgets {
			if g.Terminator != arch.Return || g.Section != ".text" || g.SectionAddr != 0x1000 {
				t.Fatalf("bad gadget %#v", g)
			}
		}
	}
}

func TestIncompleteOpcode(t *testing.T) {
	for _, code := range [][]byte{{0xe8, 0xc3}, {0xb8, 0xc3}} {
		for _, p := range profiles {
			cfg := DefaultConfig()
			cfg.Profile = p
			res := run(t, newImage(binimg.ArchX64, section(".text", 0x1000, code)), cfg)
			want := []string{"0x1001: ret"}
			if diff := cmp.Diff(want, rendered(res.Gadgets)); diff != "" {
				t.Fatalf("%s profile, % x: mismatch (-want +got):\n%s", p, code, diff)
			}
		}
	}
}

func TestNoTerminators(t *testing.T) {
	code := make([]byte, 64)
	for i := range code {
		code[i] = 0x90
	}
	for _, p := range profiles {
		cfg := DefaultConfig()
		cfg.Profile = p
		cfg.Types = arch.NewClassSet(arch.Return, arch.Call, arch.Jump)
		res := run(t, newImage(binimg.ArchX64, section(".text", 0, code)), cfg)
		if len(res.Gadgets) != 0 {
			t.Fatalf("expected no gadgets, got %v", rendered(res.Gadgets))
		}
		if res.Stats.Anchors != 0 || res.Stats.Sections != 1 || res.Stats.Bytes != 64 {
			t.Fatalf("unexpected stats %+v", res.Stats)
		}
	}
}

func TestUnique(t *testing.T) {
	code := []byte{0x58, 0xc3, 0x58, 0xc3}
	img := newImage(binimg.ArchX64, section(".text", 0x2000, code))
	for _, p := range profiles {
		cfg := DefaultConfig()
		cfg.Profile = p
		res := run(t, img, cfg)
		want := []string{"0x2000: pop rax ; ret", "0x2001: ret", "0x2002: pop rax ; ret", "0x2003: ret"}
		require.Equal(t, want, rendered(res.Gadgets))

		cfg.Unique = true
		res = run(t, img, cfg)
		want = []string{"0x2000: pop rax ; ret", "0x2001: ret"}
		require.Equal(t, want, rendered(res.Gadgets))

		n := 0
		for _, g := range res.Gadgets {
			if g.Text() == "pop rax ; ret" {
				n++
			}
		}
		require.Equal(t, 1, n)
	}
}

func TestSectionStart(t *testing.T) {
	res := run(t, newImage(binimg.ArchX64, section(".text", 0, []byte{0xc3, 0x90})), DefaultConfig())
	require.Equal(t, []string{"0x0: ret"}, rendered(res.Gadgets))

	// the terminator alone is larger than the limit
	cfg := DefaultConfig()
	cfg.MaxSize = 1
	res = run(t, newImage(binimg.ArchX64, section(".text", 0, []byte{0x5d, 0xc3, 0xc2, 0x08, 0x00})), cfg)
	require.Equal(t, []string{"0x1: ret"}, rendered(res.Gadgets))
}

func TestInstructionInTheWay(t *testing.T) {
	// call rax between the pops breaks the chain
	code := []byte{0x5f, 0xff, 0xd0, 0x5e, 0x5a, 0xc3}
	for _, p := range profiles {
		cfg := DefaultConfig()
		cfg.Profile = p
		res := run(t, newImage(binimg.ArchX64, section(".text", 0, code)), cfg)
		require.Subset(t, rendered(res.Gadgets), []string{"0x3: pop rsi ; pop rdx ; ret", "0x4: pop rdx ; ret", "0x5: ret"})
		for _, g := range res.Gadgets {
			if g.Addr < 2 {
				t.Fatalf("%s profile: gadget through the call: %v", p, &g)
			}
		}
		if p == ProfileFast {
			require.Len(t, res.Gadgets, 3)
		}

		cfg.Types = arch.NewClassSet(arch.Return, arch.Call)
		res = run(t, newImage(binimg.ArchX64, section(".text", 0, code)), cfg)
		require.Contains(t, rendered(res.Gadgets), "0x0: pop rdi ; call rax")
	}
}

func TestARM64(t *testing.T) {
	code := []byte{
		0x1f, 0x20, 0x03, 0xd5, // nop
		0xfd, 0x7b, 0xc1, 0xa8, // ldp x29, x30, [sp], #16
		0xc0, 0x03, 0x5f, 0xd6, // ret
		0xc0, 0x03, 0x5f, // truncated
	}
	for _, p := range profiles {
		cfg := DefaultConfig()
		cfg.Profile = p
		res := run(t, newImage(binimg.ArchARM64, section("__text", 0x4000, code)), cfg)
		require.Len(t, res.Gadgets, 3)
		for i, addr := range []uint64{0x4000, 0x4004, 0x4008} {
			g := res.Gadgets[i]
			require.Equal(t, addr, g.Addr)
			require.Equal(t, uint64(0x400c), g.End())
			require.Equal(t, 3-i, len(g.Instructions))
		}
	}
}

func randomCode(r *rand.Rand, n int, terminators ...[]byte) []byte {
	code := make([]byte, n)
	r.Read(code)
	for i := 0; i < n/16; i++ {
		term := terminators[r.Intn(len(terminators))]
		copy(code[r.Intn(n-len(term)):], term)
	}
	return code
}

func randomImage(seed int64) *binimg.Image {
	r := rand.New(rand.NewSource(seed))
	terms := [][]byte{{0xc3}, {0xc2, 0x10, 0x00}, {0xff, 0xe0}, {0x0f, 0x05}, {0xff, 0xd3}}
	return newImage(binimg.ArchX64,
		section(".init", 0x1000, randomCode(r, 512, terms...)),
		section(".text", 0x2000, randomCode(r, 4096, terms...)),
		section(".plt", 0x8000, randomCode(r, 256, terms...)),
		section(".fini", 0x9000, randomCode(r, 1024, terms...)),
		section(".empty", 0xa000, nil),
	)
}

func TestDeterminism(t *testing.T) {
	img := randomImage(1)
	for _, p := range profiles {
		for _, unique := range []bool{false, true} {
			cfg := DefaultConfig()
			cfg.Profile = p
			cfg.Unique = unique
			cfg.Types = arch.NewClassSet(arch.Return, arch.Jump, arch.Interrupt)
			cfg.Threads = 1
			want := rendered(run(t, img, cfg).Gadgets)
			if len(want) == 0 {
				t.Fatal("no gadgets found")
			}
			for _, threads := range []int{2, 3, 8} {
				cfg.Threads = threads
				got := rendered(run(t, img, cfg).Gadgets)
				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatalf("%s profile, %d threads, unique=%v: mismatch (-want +got):\n%s", p, threads, unique, diff)
				}
			}
		}
	}
}

func checkGadget(t *testing.T, img *binimg.Image, cfg Config, g *gadget.Gadget) {
	t.Helper()
	var sec *binimg.Section
	for _, s := range img.Sections {
		if s.Name == g.Section {
			sec = s
		}
	}
	if sec == nil {
		t.Fatalf("%v: unknown section %q", g, g.Section)
	}
	if len(g.Instructions) == 0 || len(g.Instructions) > cfg.MaxInsn {
		t.Fatalf("%v: %d instructions", g, len(g.Instructions))
	}
	if g.Size() > cfg.MaxSize {
		t.Fatalf("%v: %d bytes", g, g.Size())
	}
	if !sec.Contains(g.Addr, uint64(g.Size())) {
		t.Fatalf("%v: outside of %v", g, sec)
	}
	addr := g.Addr
	for i, ins := range g.Instructions {
		if ins.Addr != addr {
			t.Fatalf("%v: instruction %d at %#x, expected %#x", g, i, ins.Addr, addr)
		}
		addr += uint64(ins.Len)
		last := i == len(g.Instructions)-1
		if last != (ins.Class != arch.None) {
			t.Fatalf("%v: instruction %d has class %v", g, i, ins.Class)
		}
	}
	term := g.Instructions[len(g.Instructions)-1]
	if g.Terminator != term.Class || !cfg.Types.Has(term.Class) {
		t.Fatalf("%v: bad terminator %v", g, g.Terminator)
	}
	if g.End() != term.Addr+uint64(term.Len) {
		t.Fatalf("%v: end %#x", g, g.End())
	}
}

func TestConstraints(t *testing.T) {
	img := randomImage(2)
	for _, p := range profiles {
		for _, limits := range [][2]int{{32, 6}, {8, 3}, {15, 1}, {64, 10}} {
			cfg := DefaultConfig()
			cfg.Profile = p
			cfg.MaxSize, cfg.MaxInsn = limits[0], limits[1]
			cfg.Types = arch.NewClassSet(arch.Return, arch.Jump, arch.Call, arch.Interrupt)
			res := run(t, img, cfg)
			for i := range res.Gadgets {
				checkGadget(t, img, cfg, &res.Gadgets[i])
			}
		}
	}
}

func TestCompleteContainsFast(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	arm64Code := make([]byte, 2048)
	words := [][]byte{{0xc0, 0x03, 0x5f, 0xd6}, {0x1f, 0x20, 0x03, 0xd5}, {0xfd, 0x7b, 0xc1, 0xa8}, {0x00, 0x02, 0x1f, 0xd6}}
	for i := 0; i < len(arm64Code); i += 4 {
		if r.Intn(3) == 0 {
			r.Read(arm64Code[i : i+4])
		} else {
			copy(arm64Code[i:], words[r.Intn(len(words))])
		}
	}
	images := []*binimg.Image{
		randomImage(4),
		newImage(binimg.ArchARM64, section(".text", 0x10000, arm64Code)),
	}
	for _, img := range images {
		cfg := DefaultConfig()
		cfg.Types = arch.NewClassSet(arch.Return, arch.Jump)
		fast := rendered(run(t, img, cfg).Gadgets)
		cfg.Profile = ProfileComplete
		complete := rendered(run(t, img, cfg).Gadgets)

		set := make(map[string]bool, len(complete))
		for _, g := range complete {
			set[g] = true
		}
		for _, g := range fast {
			if !set[g] {
				t.Fatalf("%s: %s found by the fast profile only", img.Arch, g)
			}
		}
		if len(complete) < len(fast) {
			t.Fatalf("%s: complete found %d gadgets, fast %d", img.Arch, len(complete), len(fast))
		}
	}
}

func TestConfigErrors(t *testing.T) {
	img := newImage(binimg.ArchX64, section(".text", 0, []byte{0xc3}))
	tests := []struct {
		field string
		edit  func(*Config)
	}{
		{"max-insn", func(c *Config) { c.MaxInsn = 0 }},
		{"max-size", func(c *Config) { c.MaxSize = -1 }},
		{"threads", func(c *Config) { c.Threads = 0 }},
		{"rop-types", func(c *Config) { c.Types = 0 }},
		{"profile", func(c *Config) { c.Profile = 7 }},
		{"arch", func(c *Config) { c.Arch = binimg.ArchARM }},
		{"format", func(c *Config) { c.Format = binimg.FormatPE }},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.edit(&cfg)
		_, err := Run(context.Background(), img, cfg)
		var cerr *ConfigError
		if !errors.As(err, &cerr) {
			t.Fatalf("%s: expected a ConfigError, got %v", tt.field, err)
		}
		if cerr.Field != tt.field {
			t.Fatalf("expected field %s, got %s", tt.field, cerr.Field)
		}
	}

	_, err := Run(context.Background(), &binimg.Image{Arch: binimg.ArchUnknown}, DefaultConfig())
	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
}

func TestSectionFault(t *testing.T) {
	testHookScanSection = func(sec *binimg.Section) {
		if sec.Name == ".bad" {
			panic("corrupt section")
		}
	}
	defer func() { testHookScanSection = nil }()

	img := newImage(binimg.ArchX64,
		section(".text", 0x1000, []byte{0x58, 0xc3}),
		section(".bad", 0x2000, []byte{0x5d, 0xc3}),
		section(".more", 0x3000, []byte{0x5b, 0xc3}),
	)
	for _, threads := range []int{1, 2, 3} {
		cfg := DefaultConfig()
		cfg.Threads = threads
		res, err := Run(context.Background(), img, cfg)
		require.NoError(t, err)
		require.Equal(t, []string{"0x1000: pop rax ; ret", "0x1001: ret", "0x3000: pop rbx ; ret", "0x3001: ret"}, rendered(res.Gadgets))

		var merr *multierror.Error
		require.True(t, errors.As(res.Faults, &merr))
		require.Len(t, merr.Errors, 1)
		var fault *SectionFault
		require.True(t, errors.As(res.Faults, &fault))
		require.Equal(t, ".bad", fault.Section)
		require.Equal(t, uint64(0x2000), fault.Addr)
	}
}

func TestCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, randomImage(5), DefaultConfig())
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestEmptyImage(t *testing.T) {
	res := run(t, newImage(binimg.ArchARM), DefaultConfig())
	require.Empty(t, res.Gadgets)
	require.Equal(t, 0, res.Stats.Workers)
}

func TestPartition(t *testing.T) {
	sections := []*binimg.Section{
		section("a", 0, make([]byte, 10)),
		section("b", 0, make([]byte, 50)),
		section("c", 0, make([]byte, 20)),
		section("d", 0, make([]byte, 40)),
	}
	require.Equal(t, [][]int{{0, 1}, {2, 3}}, partition(sections, 2))
	require.Equal(t, [][]int{{1}, {3}, {2}, {0}}, partition(sections, 8))
	require.Equal(t, [][]int{{0, 1, 2, 3}}, partition(sections, 1))
	require.Nil(t, partition(nil, 4))
}

func TestParseProfile(t *testing.T) {
	for s, want := range map[string]Profile{"": ProfileFast, "fast": ProfileFast, "Complete": ProfileComplete, "1": ProfileComplete} {
		got, err := ParseProfile(s)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseProfile("slow")
	require.Error(t, err)
}
