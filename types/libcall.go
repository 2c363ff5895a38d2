package types

import "fmt"

// LibCall identifies a runtime routine that compiled code calls through a trampoline.
type LibCall uint32

const (
	LibCallCeilF32 LibCall = iota
	LibCallCeilF64
	LibCallFloorF32
	LibCallFloorF64
	LibCallNearestF32
	LibCallNearestF64
	LibCallTruncF32
	LibCallTruncF64
	LibCallMemory32Size
	LibCallImportedMemory32Size
	LibCallTableCopy
	LibCallTableInit
	LibCallTableFill
	LibCallTableSize
	LibCallImportedTableSize
	LibCallTableGet
	LibCallImportedTableGet
	LibCallTableSet
	LibCallImportedTableSet
	LibCallTableGrow
	LibCallImportedTableGrow
	LibCallFuncRef
	LibCallElemDrop
	LibCallMemory32Copy
	LibCallImportedMemory32Copy
	LibCallMemory32Fill
	LibCallImportedMemory32Fill
	LibCallMemory32Init
	LibCallDataDrop
	LibCallRaiseTrap
	LibCallProbestack

	// NumLibCalls is the number of library calls. Each has one trampoline in the libcall section.
	NumLibCalls = int(LibCallProbestack) + 1
)

var libCallNames = [...]string{
	"wasmu_vm_f32_ceil",
	"wasmu_vm_f64_ceil",
	"wasmu_vm_f32_floor",
	"wasmu_vm_f64_floor",
	"wasmu_vm_f32_nearest",
	"wasmu_vm_f64_nearest",
	"wasmu_vm_f32_trunc",
	"wasmu_vm_f64_trunc",
	"wasmu_vm_memory32_size",
	"wasmu_vm_imported_memory32_size",
	"wasmu_vm_table_copy",
	"wasmu_vm_table_init",
	"wasmu_vm_table_fill",
	"wasmu_vm_table_size",
	"wasmu_vm_imported_table_size",
	"wasmu_vm_table_get",
	"wasmu_vm_imported_table_get",
	"wasmu_vm_table_set",
	"wasmu_vm_imported_table_set",
	"wasmu_vm_table_grow",
	"wasmu_vm_imported_table_grow",
	"wasmu_vm_func_ref",
	"wasmu_vm_elem_drop",
	"wasmu_vm_memory32_copy",
	"wasmu_vm_imported_memory32_copy",
	"wasmu_vm_memory32_fill",
	"wasmu_vm_imported_memory32_fill",
	"wasmu_vm_memory32_init",
	"wasmu_vm_data_drop",
	"wasmu_vm_raise_trap",
	"wasmu_vm_probestack",
}

// LibCalls returns every library call in trampoline order.
func LibCalls() []LibCall {
	calls := make([]LibCall, NumLibCalls)
	for i := range calls {
		calls[i] = LibCall(i)
	}
	return calls
}

// FunctionName returns the symbol name of the routine.
func (l LibCall) FunctionName() string {
	if int(l) < len(libCallNames) {
		return libCallNames[l]
	}
	return fmt.Sprintf("<unknown libcall %d>", uint32(l))
}

func (l LibCall) String() string {
	return l.FunctionName()
}
