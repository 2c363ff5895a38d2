package compile

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pgavlin/wasmu/artifact"
	"github.com/pgavlin/wasmu/cmd/wasmu/config"
	"github.com/pgavlin/wasmu/load"
)

func Command() *cobra.Command {
	var flags config.Flags
	var outputPath string

	command := &cobra.Command{
		Use:   "compile [path to module]",
		Short: "Compile a WebAssembly module to an artifact",
		Long:  "Compile a WebAssembly module to a serialized artifact that can be loaded without recompilation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("expected exactly one argument")
			}

			cfg, err := flags.Config()
			if err != nil {
				return err
			}
			e, err := cfg.Engine(false)
			if err != nil {
				return err
			}

			binary, err := load.ReadFile(args[0])
			if err != nil {
				return err
			}
			a, err := e.Compile(binary, cfg.TunablesValue(e.Target()))
			if err != nil {
				return err
			}

			switch outputPath {
			case "":
				baseName := filepath.Base(args[0])
				baseName = baseName[:len(baseName)-len(filepath.Ext(baseName))]
				return a.Compiled().SerializeToFile(baseName + "." + artifact.DefaultExtension)
			case "-":
				data, err := a.Compiled().Serialize()
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(data)
				return err
			default:
				return a.Compiled().SerializeToFile(outputPath)
			}
		},
	}

	flags.Register(command)
	command.Flags().StringVarP(&outputPath, "out", "o", "", "the path for the output file. Defaults to the name of the input file + '.wasmu'")

	return command
}
