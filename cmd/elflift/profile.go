package main

import (
	"fmt"
	"os"

	"github.com/nanana37/elfconv/internal/prof"
)

var (
	profCPU   string
	profMem   string
	profTrace string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&profCPU, "cpu-profile", "", "write a CPU profile to this path")
	pf.StringVar(&profMem, "mem-profile", "", "write a heap profile to this path on exit")
	pf.StringVar(&profTrace, "runtime-trace", "", "write a runtime trace to this path")
}

// startProfiling turns on the profilers requested via the persistent flags.
// The returned stop function is idempotent.
func startProfiling() (func(), error) {
	if profCPU != "" {
		if err := prof.StartCPU(profCPU); err != nil {
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
	}
	if profTrace != "" {
		if err := prof.StartTrace(profTrace); err != nil {
			prof.StopCPU()
			return nil, fmt.Errorf("runtime trace: %w", err)
		}
	}

	done := false
	return func() {
		if done {
			return
		}
		done = true
		prof.StopTrace()
		prof.StopCPU()
		if profMem != "" {
			if err := prof.WriteMem(profMem); err != nil {
				fmt.Fprintf(os.Stderr, "heap profile: %v\n", err)
			}
		}
	}, nil
}
