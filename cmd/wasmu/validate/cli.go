package validate

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgavlin/wasmu/cmd/wasmu/config"
	"github.com/pgavlin/wasmu/load"
)

func Command() *cobra.Command {
	var flags config.Flags

	command := &cobra.Command{
		Use:   "validate [path to module]",
		Short: "Validate a WebAssembly module",
		Long:  "Validate a WebAssembly module against the configured features",
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

			binary, err := load.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := e.Validate(binary); err != nil {
				return fmt.Errorf("%v: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%v: valid\n", args[0])
			return nil
		},
	}

	flags.Register(command)

	return command
}
