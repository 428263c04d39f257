package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"vmkern/internal/defs"
	"vmkern/internal/mmu"
	"vmkern/internal/spt"
	"vmkern/internal/vfile"
	"vmkern/internal/vmsystem"
)

// runDemo exercises the concrete end-to-end scenarios spec.md §8 lists,
// against in-memory files and a simulated MMU, and logs pass/fail for
// each. It never panics the process on a failed scenario; it reports
// and continues, the way a smoke-test binary should.
func runDemo(sys *vmsystem.VmSystem, log zerolog.Logger) {
	scenarioMmapRoundTrip(sys, log)
	scenarioStackGrowthAndEviction(sys, log)
	scenarioConcurrentProcesses(sys, log)
	scenarioMmapOverlapsStack(sys, log)
	scenarioMmapMisaligned(sys, log)
	scenarioWriteToReadOnlyExecutable(sys, log)
}

func scenarioMmapRoundTrip(sys *vmsystem.VmSystem, log zerolog.Logger) {
	const addr = uintptr(0x10000000)
	pageSize := int64(defs.PageSize)
	data := make([]byte, 3*pageSize)
	data[0] = 'A'
	data[2*pageSize+5] = 'Z'
	original := data[2*pageSize+5]

	p := sys.NewProcess(1, mmu.NewSimDirectory())
	f := vfile.NewMemFile(&data)
	tok := vmsystem.NewToken()

	mapID, err := p.Mmap(tok, 2, f, addr)
	if err != 0 || mapID < 0 {
		log.Error().Msg("scenario 1: mmap failed unexpectedly")
		return
	}

	span, verr := p.Validate(tok, addr, 1, true, addr)
	if verr != 0 {
		log.Error().Msg("scenario 1: failed to validate mmap'd byte 0")
		return
	}
	span.SetByteAt(addr, 'X')
	span.Unpin()

	span2, verr2 := p.Validate(tok, addr+uintptr(2*pageSize+5), 1, false, addr)
	if verr2 != 0 {
		log.Error().Msg("scenario 1: failed to validate far byte")
		return
	}
	got := span2.ByteAt(addr + uintptr(2*pageSize+5))
	span2.Unpin()
	if got != original {
		log.Error().Msg("scenario 1: far byte did not read back the original file contents")
		return
	}

	if merr := p.Munmap(tok, mapID); merr != 0 {
		log.Error().Msg("scenario 1: munmap failed")
		return
	}
	if data[0] != 'X' {
		log.Error().Msg("scenario 1: munmap did not write byte 0 back to the file")
		return
	}
	log.Info().Msg("scenario 1 (mmap round-trip): pass")
}

func scenarioStackGrowthAndEviction(sys *vmsystem.VmSystem, log zerolog.Logger) {
	p := sys.NewProcess(2, mmu.NewSimDirectory())
	tok := vmsystem.NewToken()
	defer p.Exit(tok)
	sp := defs.PhysBase - 4096

	// One page more than the frame pool holds, so the last growth evicts.
	pages := sys.Frames.Capacity() + 1
	for i := 0; i < pages; i++ {
		va := sp - 4 // a PUSH just below the current stack pointer
		if _, err := p.Fault(tok, va, true, sp); err != 0 {
			log.Error().Int("page", i).Msg("scenario 2: unexpected fault failure during stack growth")
			return
		}
		sp = defs.PageAlign(va) // the stack pointer now sits within the page just grown
	}
	log.Info().Msg("scenario 2 (stack growth): pass")
}

func scenarioConcurrentProcesses(sys *vmsystem.VmSystem, log zerolog.Logger) {
	var g errgroup.Group
	capacity := sys.Frames.Capacity()
	perProcess := capacity/2 + 1

	runOne := func(tid defs.Tid_t) func() error {
		return func() error {
			p := sys.NewProcess(tid, mmu.NewSimDirectory())
			tok := vmsystem.NewToken()
			for i := 0; i < perProcess; i++ {
				va := uintptr(0x20000000) + uintptr(i)*uintptr(defs.PageSize)
				if _, err := p.SPT.CreateAnonymous(tid, va, true); err != 0 {
					return fmt.Errorf("process %d: create anon entry %d: %v", tid, i, err)
				}
				if _, err := p.Fault(tok, va, true, va); err != 0 {
					return fmt.Errorf("process %d: fault on page %d: %v", tid, i, err)
				}
			}
			p.Exit(tok)
			return nil
		}
	}
	g.Go(runOne(10))
	g.Go(runOne(11))

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("scenario 3: concurrent processes failed")
		return
	}
	if sys.Frames.Len() != 0 {
		log.Error().Int("frames_resident", sys.Frames.Len()).Msg("scenario 3: frame leak at quiescence")
		return
	}
	log.Info().Msg("scenario 3 (concurrent processes): pass")
}

func scenarioMmapOverlapsStack(sys *vmsystem.VmSystem, log zerolog.Logger) {
	p := sys.NewProcess(3, mmu.NewSimDirectory())
	tok := vmsystem.NewToken()
	data := make([]byte, defs.PageSize)
	f := vfile.NewMemFile(&data)

	addr := defs.PhysBase - defs.MaxStackSize
	mapID, err := p.Mmap(tok, 2, f, addr)
	if err == 0 && mapID >= 0 {
		log.Error().Msg("scenario 4: mmap into the stack region unexpectedly succeeded")
		return
	}
	log.Info().Msg("scenario 4 (mmap overlaps stack): pass")
}

func scenarioMmapMisaligned(sys *vmsystem.VmSystem, log zerolog.Logger) {
	p := sys.NewProcess(4, mmu.NewSimDirectory())
	tok := vmsystem.NewToken()
	data := make([]byte, defs.PageSize)
	f := vfile.NewMemFile(&data)

	mapID, err := p.Mmap(tok, 2, f, 0x4)
	if err == 0 && mapID >= 0 {
		log.Error().Msg("scenario 5: misaligned mmap unexpectedly succeeded")
		return
	}
	log.Info().Msg("scenario 5 (mmap misaligned address): pass")
}

func scenarioWriteToReadOnlyExecutable(sys *vmsystem.VmSystem, log zerolog.Logger) {
	p := sys.NewProcess(5, mmu.NewSimDirectory())
	tok := vmsystem.NewToken()
	data := make([]byte, defs.PageSize)
	f := vfile.NewMemFile(&data)

	const addr = uintptr(0x08048000)
	if _, err := p.SPT.CreateFileBacked(5, addr, f, false, 0, defs.PageSize, spt.Executable, -1); err != 0 {
		log.Error().Msg("scenario 6: failed to install read-only executable page")
		return
	}
	if _, err := p.Validate(tok, addr, 1, true, addr); err == 0 {
		log.Error().Msg("scenario 6: write to read-only executable page was not rejected")
		return
	}
	log.Info().Msg("scenario 6 (write to read-only executable page): pass")
}
