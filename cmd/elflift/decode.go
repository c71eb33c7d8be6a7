package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nanana37/elfconv/internal/aarch64"
	"github.com/nanana37/elfconv/internal/lifter"
	"github.com/nanana37/elfconv/internal/loader"
)

var (
	decodeFlat  bool
	decodeBase  uint64
	decodeStart string
	decodeCount int
)

func init() {
	decodeCmd.Flags().BoolVar(&decodeFlat, "flat", false, "treat the input as a raw code blob instead of an ELF")
	decodeCmd.Flags().Uint64Var(&decodeBase, "base", 0, "load address for --flat inputs")
	decodeCmd.Flags().StringVar(&decodeStart, "start", "", "first address to decode (default: image entry)")
	decodeCmd.Flags().IntVar(&decodeCount, "count", 64, "number of instructions to decode")
}

var decodeCmd = &cobra.Command{
	Use:   "decode <binary>",
	Short: "List decoded instruction categories for a code range",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecode(cmd, args[0])
	},
}

func runDecode(cmd *cobra.Command, binPath string) error {
	var img *loader.Image
	if decodeFlat {
		raw, err := os.ReadFile(binPath)
		if err != nil {
			return err
		}
		img = loader.NewFlatImage(decodeBase, raw, nil)
	} else {
		var err error
		img, err = loader.LoadELF(binPath)
		if err != nil {
			return err
		}
	}

	addr := img.Entry
	if decodeStart != "" {
		var err error
		addr, err = parseAddr(decodeStart)
		if err != nil {
			return err
		}
	}

	arch := aarch64.New()
	buf := make([]byte, arch.MaxInstBytes())
	var inst lifter.Instruction
	out := cmd.OutOrStdout()
	for i := 0; i < decodeCount; i++ {
		n := 0
		for ; n < len(buf); n++ {
			b, ok := img.ReadByte(addr + uint64(n))
			if !ok {
				break
			}
			buf[n] = b
		}
		if n == 0 {
			fmt.Fprintf(out, "%#010x  <unmapped>\n", addr)
			return nil
		}
		inst.Reset()
		if !arch.Decode(addr, buf[:n], &inst) {
			fmt.Fprintf(out, "%#010x  %08x  invalid\n", addr, inst.Enc)
			addr += uint64(arch.MaxInstBytes())
			continue
		}
		line := fmt.Sprintf("%#010x  %08x  %-8s %s", addr, inst.Enc, inst.Mnemonic, inst.Category)
		if inst.BranchTakenPC != 0 {
			line += fmt.Sprintf("  taken=%#x", inst.BranchTakenPC)
		}
		if inst.Category.IsConditional() {
			line += fmt.Sprintf("  fall=%#x", inst.BranchNotTakenPC)
		}
		fmt.Fprintln(out, line)
		addr = inst.NextPC
	}
	return nil
}

func parseAddr(s string) (uint64, error) {
	var vma uint64
	if _, err := fmt.Sscanf(s, "0x%x", &vma); err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}
	return vma, nil
}
