package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pgavlin/wasmu/artifact"
	"github.com/pgavlin/wasmu/cmd/wasmu/compile"
	"github.com/pgavlin/wasmu/cmd/wasmu/inspect"
	"github.com/pgavlin/wasmu/cmd/wasmu/instantiate"
	"github.com/pgavlin/wasmu/cmd/wasmu/validate"
	"github.com/pgavlin/wasmu/engine"
)

var version = "<unknown>"

func configureCLI() *cobra.Command {
	var verbose bool
	var cpuProfile string
	var memProfile string
	var logger *zap.Logger

	rootCommand := &cobra.Command{
		Use:           "wasmu",
		Short:         "wasmu WebAssembly artifact tools",
		Long:          "wasmu - compile, inspect, validate and instantiate WebAssembly artifacts",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				logger = l
				artifact.SetLogger(l)
				engine.SetLogger(l)
			}

			if cpuProfile != "" {
				f, err := os.Create(cpuProfile)
				if err != nil {
					return err
				}
				if err := pprof.StartCPUProfile(f); err != nil {
					return err
				}
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cpuProfile != "" {
				pprof.StopCPUProfile()
			}

			if memProfile != "" {
				f, err := os.Create(memProfile)
				if err != nil {
					return err
				}
				defer f.Close()
				runtime.GC()
				if err := pprof.WriteHeapProfile(f); err != nil {
					return err
				}
			}

			if logger != nil {
				_ = logger.Sync()
			}
			return nil
		},
	}

	rootCommand.AddCommand(compile.Command())
	rootCommand.AddCommand(inspect.Command())
	rootCommand.AddCommand(instantiate.Command())
	rootCommand.AddCommand(validate.Command())

	rootCommand.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log compilation and loading events to stderr")
	rootCommand.PersistentFlags().StringVar(&cpuProfile, "cpu", "", "emit Go CPU profile data to this path")
	rootCommand.PersistentFlags().StringVar(&memProfile, "mem", "", "emit Go memory profile data to this path")

	rootCommand.PersistentFlags().MarkHidden("cpu")
	rootCommand.PersistentFlags().MarkHidden("mem")

	return rootCommand
}

func main() {
	rootCommand := configureCLI()

	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
