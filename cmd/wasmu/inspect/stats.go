package inspect

import (
	"encoding/csv"
	"io"

	"github.com/jszwec/csvutil"

	"github.com/pgavlin/wasmu/engine"
	"github.com/pgavlin/wasmu/types"
)

type row struct {
	Function    string `csv:"function"`
	Funcidx     int    `csv:"funcidx"`
	In          int    `csv:"in"`
	Out         int    `csv:"out"`
	CodeSize    int    `csv:"code size"`
	Relocations int    `csv:"relocations"`
	LibCalls    int    `csv:"libcalls"`
	Calls       int    `csv:"calls"`
	Traps       int    `csv:"traps"`
}

func dumpStats(w io.Writer, a *engine.Artifact) error {
	csvWriter := csv.NewWriter(w)
	defer csvWriter.Flush()

	encoder := csvutil.NewEncoder(csvWriter)

	info, compiled := a.ModuleInfo(), a.Compiled()
	relocations, frames := compiled.FunctionRelocations(), compiled.FrameInfo()

	var err error
	compiled.FunctionBodies().Each(func(i int, body types.FunctionBody) bool {
		idx := info.FuncIndex(types.LocalFunctionIndex(i))
		sig := info.Signatures[info.Functions[idx]]

		r := row{
			Function: info.FunctionNames[idx],
			Funcidx:  int(idx),
			In:       len(sig.Params),
			Out:      len(sig.Results),
			CodeSize: len(body.Body),
		}
		if relocs, ok := relocations.Get(i); ok {
			r.Relocations = len(relocs)
			for _, reloc := range relocs {
				switch reloc.Target.Kind {
				case types.RelocTargetLibCall:
					r.LibCalls++
				case types.RelocTargetLocalFunc:
					r.Calls++
				}
			}
		}
		if frame, ok := frames.Get(i); ok {
			r.Traps = len(frame.Traps)
		}

		err = encoder.Encode(&r)
		return err == nil
	})
	return err
}
