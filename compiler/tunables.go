package compiler

import "github.com/pgavlin/wasmu/types"

// Tunables choose the layout of the memories and tables of a module at build time.
type Tunables interface {
	MemoryStyle(memory *types.MemoryType) types.MemoryStyle
	TableStyle(table *types.TableType) types.TableStyle
}

// BaseTunables reserves the full address range of small memories up front and bounds checks the rest.
type BaseTunables struct {
	// StaticMemoryBound is the largest memory, in pages, that is laid out statically.
	StaticMemoryBound types.Pages
	// StaticMemoryOffsetGuardSize is the size of the guard region after a static memory.
	StaticMemoryOffsetGuardSize uint64
	// DynamicMemoryOffsetGuardSize is the size of the guard region after a dynamic memory.
	DynamicMemoryOffsetGuardSize uint64
}

// NewBaseTunables returns the base tunables for a target.
func NewBaseTunables(target *Target) *BaseTunables {
	if target.PointerWidth() < 8 {
		return &BaseTunables{
			StaticMemoryBound:            0x4000,
			StaticMemoryOffsetGuardSize:  0x1_0000,
			DynamicMemoryOffsetGuardSize: 0x1_0000,
		}
	}
	// 4GiB of static memory with a 2GiB guard region.
	return &BaseTunables{
		StaticMemoryBound:            0x1_0000,
		StaticMemoryOffsetGuardSize:  0x8000_0000,
		DynamicMemoryOffsetGuardSize: 0x1_0000,
	}
}

func (t *BaseTunables) MemoryStyle(memory *types.MemoryType) types.MemoryStyle {
	maximum := types.MaxPages
	if memory.Maximum != nil {
		maximum = *memory.Maximum
	}
	if maximum <= t.StaticMemoryBound {
		return types.MemoryStyle{
			Kind:            types.MemoryStatic,
			Bound:           t.StaticMemoryBound,
			OffsetGuardSize: t.StaticMemoryOffsetGuardSize,
		}
	}
	return types.MemoryStyle{Kind: types.MemoryDynamic, OffsetGuardSize: t.DynamicMemoryOffsetGuardSize}
}

func (t *BaseTunables) TableStyle(*types.TableType) types.TableStyle {
	return types.TableCallerChecksSignature
}

// MemoryStyles computes the style of every memory in the module's memory index space.
func MemoryStyles(tunables Tunables, module *types.ModuleInfo) []types.MemoryStyle {
	var styles []types.MemoryStyle
	for i := range module.Memories {
		styles = append(styles, tunables.MemoryStyle(&module.Memories[i]))
	}
	return styles
}

// TableStyles computes the style of every table in the module's table index space.
func TableStyles(tunables Tunables, module *types.ModuleInfo) []types.TableStyle {
	var styles []types.TableStyle
	for i := range module.Tables {
		styles = append(styles, tunables.TableStyle(&module.Tables[i]))
	}
	return styles
}
