// Package search implements the gadget search: the backward scan of one
// section and the scheduler that spreads the executable sections of an
// image over a fixed number of workers.
package search

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/ropfind/ropfind/pkg/binimg"
	"github.com/ropfind/ropfind/pkg/gadget"
	"github.com/ropfind/ropfind/pkg/logflags"
)

// SectionFault reports a section whose scan failed. The gadgets of that
// section are dropped, the other sections are not affected.
type SectionFault struct {
	Section string
	Addr    uint64
	Err     error
}

func (f *SectionFault) Error() string {
	return fmt.Sprintf("section %s at %#x: %v", f.Section, f.Addr, f.Err)
}

func (f *SectionFault) Unwrap() error {
	return f.Err
}

// Stats describes the work done by a search.
type Stats struct {
	Sections int
	Bytes    uint64
	Anchors  int
	Gadgets  int
	Workers  int
	Elapsed  time.Duration
}

// Result is the outcome of a search.
type Result struct {
	Gadgets gadget.Set
	// Faults is nil or a *multierror.Error of *SectionFault.
	Faults error
	Stats  Stats
}

type sectionOutcome struct {
	gadgets []gadget.Gadget
	anchors int
	fault   *SectionFault
}

// testHookScanSection is called before each section is scanned.
var testHookScanSection func(sec *binimg.Section)

// Run searches the executable sections of img.
//
// The configuration is validated before any work starts and the error is a
// *ConfigError. The sections are then split among cfg.Threads workers and
// the results merged once all of them return. A section that fails does not
// fail the run, it is reported in Result.Faults. The context is checked
// between sections only, a section that started is always finished.
func Run(ctx context.Context, img *binimg.Image, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a, err := cfg.validateImage(img)
	if err != nil {
		return nil, err
	}

	logger := logflags.SearchLogger()
	start := time.Now()
	sections := img.ExecutableSections()
	parts := partition(sections, cfg.Threads)

	outcomes := make([]sectionOutcome, len(sections))
	g, ctx := errgroup.WithContext(ctx)
	for _, part := range parts {
		part := part
		g.Go(func() error {
			e := newEngine(a, &cfg)
			for _, i := range part {
				if err := ctx.Err(); err != nil {
					return err
				}
				outcomes[i] = scanSection(e, sections[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		Stats: Stats{
			Sections: len(sections),
			Bytes:    lo.SumBy(sections, func(s *binimg.Section) uint64 { return s.Size() }),
			Workers:  len(parts),
		},
	}
	var faults *multierror.Error
	partials := make([][]gadget.Gadget, 0, len(outcomes))
	for _, o := range outcomes {
		res.Stats.Anchors += o.anchors
		if o.fault != nil {
			logger.WithError(o.fault.Err).WithField("section", o.fault.Section).Warnf("section scan failed, its gadgets are dropped")
			faults = multierror.Append(faults, o.fault)
			continue
		}
		partials = append(partials, o.gadgets)
	}
	res.Gadgets = gadget.Collect(partials, cfg.Unique)
	res.Faults = faults.ErrorOrNil()
	res.Stats.Gadgets = len(res.Gadgets)
	res.Stats.Elapsed = time.Since(start)

	if logflags.Search() {
		logger.Debugf("%d gadgets in %s of code (%d sections, %d terminators, %d workers) in %v",
			res.Stats.Gadgets, humanize.IBytes(res.Stats.Bytes), res.Stats.Sections,
			res.Stats.Anchors, res.Stats.Workers, res.Stats.Elapsed)
	}
	return res, nil
}

// scanSection runs e on sec, turning a panic into a SectionFault.
func scanSection(e *engine, sec *binimg.Section) (o sectionOutcome) {
	logger := logflags.SearchLogger()
	anchors := e.anchors
	defer func() {
		if r := recover(); r != nil {
			logger.Debugf("panic scanning %s: %v\n%s", sec.Name, r, debug.Stack())
			o = sectionOutcome{fault: &SectionFault{
				Section: sec.Name,
				Addr:    sec.Addr,
				Err:     fmt.Errorf("panic: %v", r),
			}}
		}
	}()
	if testHookScanSection != nil {
		testHookScanSection(sec)
	}
	if logflags.Search() {
		logger.Debugf("scanning %s (%s) with %s profile", sec.Name, humanize.IBytes(sec.Size()), e.cfg.Profile)
	}
	o.gadgets = e.scan(sec)
	o.anchors = e.anchors - anchors
	return o
}

// partition assigns sections to at most n workers. Sections are taken from
// the largest to the smallest and each one goes to the worker with the
// least bytes so far. The result lists section indices and only depends on
// the section sizes.
func partition(sections []*binimg.Section, n int) [][]int {
	if n > len(sections) {
		n = len(sections)
	}
	if n <= 0 {
		return nil
	}
	order := lo.Range(len(sections))
	sort.SliceStable(order, func(i, j int) bool {
		return sections[order[i]].Size() > sections[order[j]].Size()
	})

	parts := make([][]int, n)
	load := make([]uint64, n)
	for _, i := range order {
		w := 0
		for k := 1; k < n; k++ {
			if load[k] < load[w] {
				w = k
			}
		}
		parts[w] = append(parts[w], i)
		load[w] += sections[i].Size()
	}
	for _, p := range parts {
		sort.Ints(p)
	}
	return parts
}
