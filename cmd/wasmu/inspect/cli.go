package inspect

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pgavlin/wasmu/cmd/wasmu/config"
	"github.com/pgavlin/wasmu/engine"
	"github.com/pgavlin/wasmu/load"
	"github.com/pgavlin/wasmu/types"
)

func Command() *cobra.Command {
	var flags config.Flags
	var csv bool

	command := &cobra.Command{
		Use:   "inspect [path to artifact]",
		Short: "Inspect a serialized artifact",
		Long:  "Print a summary of a serialized artifact, or per-function statistics as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("expected exactly one argument")
			}

			cfg, err := flags.Config()
			if err != nil {
				return err
			}
			e, err := cfg.Engine(true)
			if err != nil {
				return err
			}

			m, err := load.MapFile(args[0])
			if err != nil {
				return err
			}
			defer m.Close()

			a, err := e.Deserialize(m.Bytes())
			if err != nil {
				return fmt.Errorf("%v: %w", args[0], err)
			}

			if csv {
				return dumpStats(cmd.OutOrStdout(), a)
			}
			return summarize(cmd.OutOrStdout(), a)
		},
	}

	flags.Register(command)
	command.Flags().BoolVar(&csv, "csv", false, "print per-function statistics as CSV")

	return command
}

func summarize(w io.Writer, a *engine.Artifact) error {
	info, compiled := a.ModuleInfo(), a.Compiled()

	name := info.Name
	if name == "" {
		name = "<unnamed>"
	}
	fmt.Fprintf(w, "module:       %v\n", name)
	fmt.Fprintf(w, "cpu features: %v\n", compiled.CPUFeatures())
	fmt.Fprintf(w, "functions:    %d (%d imported)\n", len(info.Functions), info.NumImportedFunctions)
	fmt.Fprintf(w, "tables:       %d (%d imported)\n", len(info.Tables), info.NumImportedTables)
	fmt.Fprintf(w, "memories:     %d (%d imported)\n", len(info.Memories), info.NumImportedMemories)
	fmt.Fprintf(w, "globals:      %d (%d imported)\n", len(info.Globals), info.NumImportedGlobals)
	fmt.Fprintf(w, "data:         %d initializers\n", len(compiled.DataInitializers()))

	compiled.MemoryStyles().Each(func(i int, s types.MemoryStyle) bool {
		fmt.Fprintf(w, "memory[%d]:    %v\n", i, s)
		return true
	})
	compiled.TableStyles().Each(func(i int, s types.TableStyle) bool {
		fmt.Fprintf(w, "table[%d]:     %v\n", i, s)
		return true
	})

	for _, imp := range info.Imports {
		fmt.Fprintf(w, "import:       %v.%v (%v %d)\n", imp.Module, imp.Field, imp.Kind, imp.Index)
	}
	for _, exp := range info.Exports {
		fmt.Fprintf(w, "export:       %v (%v %d)\n", exp.Name, exp.Kind, exp.Index)
	}
	return nil
}
