package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/jkmnt/bajo/pkg/asm"
	"github.com/jkmnt/bajo/pkg/dis"
	"github.com/jkmnt/bajo/pkg/host"
	"github.com/jkmnt/bajo/pkg/vm"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "bajo",
		Short:         "bajo bytecode VM — assemble, disassemble and run flat images",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// asm command
	var asmOut string

	asmCmd := &cobra.Command{
		Use:   "asm [program.s]",
		Short: "Assemble a text program into a flat bytecode image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			image, err := asm.Assemble(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if err := os.WriteFile(asmOut, image, 0o644); err != nil {
				return err
			}
			fmt.Printf("%s: %d bytes\n", asmOut, len(image))
			return nil
		},
	}
	asmCmd.Flags().StringVarP(&asmOut, "output", "o", "out.bin", "Output image path")

	// dis command
	var disJSON bool

	disCmd := &cobra.Command{
		Use:   "dis [image.bin]",
		Short: "Disassemble a flat bytecode image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			lines, derr := dis.Listing(image)

			if disJSON {
				if err := dis.WriteJSON(os.Stdout, lines); err != nil {
					return err
				}
			} else {
				table := tablewriter.NewWriter(os.Stdout)
				table.SetHeader([]string{"Offset", "Bytes", "Text"})
				for _, in := range lines {
					table.Append([]string{
						fmt.Sprintf("0x%04X", in.Off),
						fmt.Sprintf("% X", image[in.Off:in.Off+in.Len]),
						in.Text,
					})
				}
				table.Render()
			}

			if derr != nil {
				return fmt.Errorf("listing incomplete: %w", derr)
			}
			return nil
		},
	}
	disCmd.Flags().BoolVar(&disJSON, "json", false, "Emit the listing as JSON")

	// run command
	var startPC uint32
	var memSize int
	var trace bool
	var strictMath bool

	runCmd := &cobra.Command{
		Use:   "run [image.bin]",
		Short: "Run a flat bytecode image loaded at address 0",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			h, err := host.Load(image, memSize)
			if err != nil {
				return err
			}
			h.BindConsole(os.Stdin, os.Stdout)

			m := vm.New(h)
			m.ErrOnZeroDivision = strictMath
			m.ErrOnIntOverflow = strictMath
			m.Init(startPC)

			rc := runVM(m, h, trace)

			if rc == vm.Exit {
				fmt.Printf("exit rc=%d\n", m.ExitRC)
				os.Exit(int(m.ExitRC & 0xFF))
			}
			color.Red("fault at pc=0x%X: %s (%d)", m.PC, rc, int(rc))
			return fmt.Errorf("program faulted")
		},
	}
	runCmd.Flags().Uint32Var(&startPC, "pc", 0, "Initial program counter")
	runCmd.Flags().IntVar(&memSize, "mem", 1<<16, "Memory size in bytes")
	runCmd.Flags().BoolVarP(&trace, "trace", "t", false, "Disassemble each instruction before stepping")
	runCmd.Flags().BoolVar(&strictMath, "strict-math", false, "Fail on zero division and signed division overflow")

	rootCmd.AddCommand(asmCmd, disCmd, runCmd)
	if err := rootCmd.Execute(); err != nil {
		color.Red("%v", err)
		os.Exit(1)
	}
}

// runVM steps the machine to termination, optionally tracing each
// instruction from the RAM image.
func runVM(m *vm.VM, h *host.Mem, trace bool) vm.Code {
	if !trace {
		return m.Run()
	}
	dim := color.New(color.Faint)
	for {
		if in, err := dis.Decode(h.Bytes(), int(m.PC)); err == nil {
			dim.Printf("0x%04X: %s\n", m.PC, in.Text)
		} else {
			dim.Printf("0x%04X: ??\n", m.PC)
		}
		if rc := m.Step(); rc != vm.OK {
			return rc
		}
	}
}
