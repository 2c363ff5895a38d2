package instantiate

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pgavlin/wasmu/cmd/wasmu/config"
	"github.com/pgavlin/wasmu/exec"
	"github.com/pgavlin/wasmu/load"
	"github.com/pgavlin/wasmu/types"
)

func Command() *cobra.Command {
	var flags config.Flags
	var path string

	command := &cobra.Command{
		Use:   "instantiate [path to module]",
		Short: "Instantiate a WebAssembly module",
		Long: "Instantiate a WebAssembly module or artifact and list its exports. Imports are resolved by " +
			"instantiating the modules they name from the module path",
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
			store := exec.NewStore(e, cfg.TunablesValue(e.Target()))

			a, closer, err := load.File(store, args[0])
			if err != nil {
				return err
			}
			defer closer.Close()

			if path == "" {
				path = filepath.Dir(args[0])
			}
			ctx := exec.NewContext(store, struct{}{})
			resolver := load.NewFSResolver(os.DirFS(path), ctx, nil)

			h, err := exec.Instantiate(ctx, a, resolver)
			if err != nil {
				return err
			}
			return listExports(cmd.OutOrStdout(), ctx.Objects(), h.Get(ctx.Objects()))
		},
	}

	flags.Register(command)
	command.Flags().StringVarP(&path, "path", "p", "", "the directory searched for imported modules. Defaults to the module's directory")

	return command
}

func listExports(w io.Writer, objs *exec.ContextObjects, inst *exec.Instance) error {
	exports := inst.Exports()
	names := make([]string, 0, len(exports))
	for name := range exports {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		e := exports[name]
		switch e.Kind {
		case types.ExternFunction:
			sig, _ := e.Function.Type(objs)
			fmt.Fprintf(w, "%v: func %v\n", name, sig)
		case types.ExternTable:
			t := e.Table.Get(objs)
			fmt.Fprintf(w, "%v: table %v, %d elements\n", name, t.Type().Type, t.Size())
		case types.ExternMemory:
			fmt.Fprintf(w, "%v: memory, %d pages\n", name, e.Memory.Get(objs).Size())
		case types.ExternGlobal:
			g := e.Global.Get(objs)
			fmt.Fprintf(w, "%v: global %v = %#x\n", name, g.Type().Type, g.Get())
		}
	}
	if f, ok := inst.Start(); ok {
		sig, _ := f.Type(objs)
		fmt.Fprintf(w, "start function: %v\n", sig)
	}
	return nil
}
