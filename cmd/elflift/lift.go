package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nanana37/elfconv/internal/aarch64"
	"github.com/nanana37/elfconv/internal/config"
	"github.com/nanana37/elfconv/internal/dcache"
	"github.com/nanana37/elfconv/internal/ir"
	"github.com/nanana37/elfconv/internal/lifter"
	"github.com/nanana37/elfconv/internal/loader"
	"github.com/nanana37/elfconv/internal/observ"
	"github.com/nanana37/elfconv/internal/ui"
)

var (
	liftFlat       bool
	liftBase       uint64
	liftEntries    []string
	liftOutDir     string
	liftNoCache    bool
	liftReportOnly bool
	liftVerbose    bool
)

func init() {
	liftCmd.Flags().BoolVar(&liftFlat, "flat", false, "treat the input as a raw code blob instead of an ELF")
	liftCmd.Flags().Uint64Var(&liftBase, "base", 0, "load address for --flat inputs")
	liftCmd.Flags().StringSliceVar(&liftEntries, "entry", nil, "entry symbol or 0x-address (repeatable, overrides the manifest)")
	liftCmd.Flags().StringVar(&liftOutDir, "out", "", "IR dump directory (overrides the manifest)")
	liftCmd.Flags().BoolVar(&liftNoCache, "no-cache", false, "skip the lift-report disk cache")
	liftCmd.Flags().BoolVar(&liftReportOnly, "report-only", false, "print the report without writing IR dumps")
	liftCmd.Flags().BoolVar(&liftVerbose, "verbose", false, "debug-level lifter logging")
}

var liftCmd = &cobra.Command{
	Use:   "lift <binary>",
	Short: "Lift a binary's traces into IR and dump them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLift(cmd, args[0])
	},
}

func runLift(cmd *cobra.Command, binPath string) error {
	quiet, _ := cmd.Flags().GetBool("quiet")
	timings, _ := cmd.Flags().GetBool("timings")
	timer := observ.NewTimer()

	stopProf, err := startProfiling()
	if err != nil {
		return err
	}
	defer stopProf()

	cfg, manifestBytes, err := resolveConfig(binPath)
	if err != nil {
		return err
	}
	if liftOutDir != "" {
		cfg.Output.Dir = liftOutDir
	}
	entries := liftEntries
	if len(entries) == 0 {
		entries = cfg.Lift.Entries
	}

	phase := timer.Begin("load")
	img, raw, err := loadInput(binPath, entries)
	if err != nil {
		return err
	}
	timer.End(phase, fmt.Sprintf("%d segments", len(img.Segments)))

	var cache *dcache.Cache
	var key dcache.Digest
	if cfg.Cache.Enabled && !liftNoCache {
		cache, err = dcache.Open("elflift")
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		key = dcache.KeyFor(raw, manifestBytes)
		if liftReportOnly {
			var cached dcache.LiftReport
			if ok, err := cache.Get(key, &cached); err != nil {
				return err
			} else if ok {
				ui.RenderReport(cmd.OutOrStdout(), &cached, colorEnabled(cmd), true)
				return nil
			}
		}
	}

	vmas, err := resolveEntries(img, entries)
	if err != nil {
		return err
	}

	log := zap.NewNop()
	if liftVerbose && !quiet {
		log, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer log.Sync()
	}

	manager := lifter.NewImageManager(img.ReadByte, img.Symbols)
	for vma, end := range img.Ends {
		manager.Ends[vma] = end
	}

	module := ir.NewModule()
	l := lifter.New(aarch64.New(), manager, module, log)

	report := &dcache.LiftReport{Binary: filepath.Base(binPath)}
	phase = timer.Begin("lift")
	start := time.Now()
	var lifted []*ir.Func
	for _, vma := range vmas {
		if err := l.Lift(vma, func(f *ir.Func) {
			lifted = append(lifted, f)
		}); err != nil {
			return fmt.Errorf("lift %#x: %w", vma, err)
		}
	}
	report.Elapsed = time.Since(start)
	timer.End(phase, fmt.Sprintf("%d traces", len(lifted)))

	for _, f := range lifted {
		report.Traces = append(report.Traces, dcache.TraceReport{
			Name:      f.Name,
			EntryVMA:  f.EntryVMA,
			Blocks:    len(f.Blocks),
			Phis:      countPhis(f),
			TableSize: tableSize(manager, f.EntryVMA),
		})
	}

	if !liftReportOnly {
		phase = timer.Begin("dump")
		if err := writeDumps(cfg.Output.Dir, lifted); err != nil {
			return err
		}
		timer.End(phase, cfg.Output.Dir)
	}

	if cache != nil {
		if err := cache.Put(key, report); err != nil {
			log.Warn("cache write failed", zap.Error(err))
		}
	}

	if !quiet {
		ui.RenderReport(cmd.OutOrStdout(), report, colorEnabled(cmd), false)
	}
	if timings {
		fmt.Fprint(cmd.OutOrStdout(), timer.Summary())
	}
	return nil
}

// resolveConfig finds and loads the manifest near the binary, falling back
// to defaults when none exists.
func resolveConfig(binPath string) (config.Config, []byte, error) {
	path, ok, err := config.FindManifest(filepath.Dir(binPath))
	if err != nil {
		return config.Config{}, nil, err
	}
	if !ok {
		return config.Default(), nil, nil
	}
	manifest, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	return manifest.Config, raw, nil
}

// loadInput maps the binary and returns the image plus the raw file bytes
// used for cache keying.
func loadInput(binPath string, entries []string) (*loader.Image, []byte, error) {
	raw, err := os.ReadFile(binPath)
	if err != nil {
		return nil, nil, err
	}
	if liftFlat {
		symbols := make(map[uint64]string)
		for _, e := range entries {
			vma, isAddr, err := config.ParseEntry(e)
			if err != nil {
				return nil, nil, err
			}
			if !isAddr {
				return nil, nil, fmt.Errorf("--flat inputs need 0x-address entries, got %q", e)
			}
			symbols[vma] = fmt.Sprintf("sub_%x", vma)
		}
		return loader.NewFlatImage(liftBase, raw, symbols), raw, nil
	}
	img, err := loader.LoadELF(binPath)
	if err != nil {
		return nil, nil, err
	}
	return img, raw, nil
}

// resolveEntries maps entry strings to VMAs, consulting the symbol table
// for non-address entries. With no entries configured the image entry point
// is lifted.
func resolveEntries(img *loader.Image, entries []string) ([]uint64, error) {
	if len(entries) == 0 {
		return []uint64{img.Entry}, nil
	}
	out := make([]uint64, 0, len(entries))
	for _, e := range entries {
		vma, isAddr, err := config.ParseEntry(e)
		if err != nil {
			return nil, err
		}
		if !isAddr {
			vma, err = img.ResolveEntry(e)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, vma)
	}
	return out, nil
}

// writeDumps prints every lifted function into its own file, in parallel.
func writeDumps(dir string, funcs []*ir.Func) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, f := range funcs {
		f := f
		g.Go(func() error {
			out, err := os.Create(filepath.Join(dir, f.Name+".ir"))
			if err != nil {
				return err
			}
			if err := ir.DumpFunc(out, f); err != nil {
				out.Close()
				return err
			}
			return out.Close()
		})
	}
	return g.Wait()
}

func countPhis(f *ir.Func) int {
	n := 0
	for i := range f.Blocks {
		n += f.Blocks[i].PhiCount()
	}
	return n
}

func tableSize(m *lifter.ImageManager, vma uint64) int {
	for _, t := range m.Tables {
		if t.TraceVMA == vma {
			return t.Size
		}
	}
	return 0
}
