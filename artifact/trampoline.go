package artifact

import (
	"bytes"
	"encoding/binary"
	"fmt"

	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/arm64"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/pgavlin/wasmu/compiler"
	"github.com/pgavlin/wasmu/types"
)

// trampolinePlaceholder is the address assembled into the trampoline template. Its encoding is located
// in the output and replaced by a relocation.
const trampolinePlaceholder = 0x1122334455667788

type relocationSite struct {
	kind   types.RelocationKind
	offset uint32
}

// trampolineTemplate is the code of one libcall trampoline with the address of the callee left to be
// filled in by relocations.
type trampolineTemplate struct {
	code  []byte
	sites []relocationSite
}

// libcallTrampolines returns a custom section that holds one trampoline per libcall, the relocations
// that bind each trampoline to its libcall, and the length of each trampoline.
func libcallTrampolines(arch compiler.Architecture) (types.CustomSection, []types.Relocation, uint32) {
	tmpl := trampolineFor(arch)

	size := uint32(len(tmpl.code))
	code := make([]byte, 0, types.NumLibCalls*len(tmpl.code))
	var relocations []types.Relocation
	for _, libcall := range types.LibCalls() {
		base := uint32(len(code))
		code = append(code, tmpl.code...)
		for _, site := range tmpl.sites {
			relocations = append(relocations, types.Relocation{
				Kind:   site.kind,
				Target: types.RelocationTarget{Kind: types.RelocTargetLibCall, Index: uint32(libcall)},
				Offset: base + site.offset,
			})
		}
	}
	return types.CustomSection{Protection: types.ProtectionReadExecute, Bytes: code}, relocations, size
}

func trampolineFor(arch compiler.Architecture) trampolineTemplate {
	var tmpl trampolineTemplate
	var err error
	switch arch {
	case compiler.ArchArm64:
		if tmpl, err = assembleArm64(); err != nil {
			Logger().Debug("falling back to the fixed arm64 trampoline encoding")
			tmpl = fixedArm64Trampoline()
		}
	default:
		if tmpl, err = assembleAmd64(); err != nil {
			Logger().Debug("falling back to the fixed amd64 trampoline encoding")
			tmpl = fixedAmd64Trampoline()
		}
	}
	return tmpl
}

func assemble(arch string, emit func(b *asm.Builder)) (code []byte, err error) {
	defer func() {
		if x := recover(); x != nil {
			err = fmt.Errorf("assembling %v trampoline: %v", arch, x)
		}
	}()

	b, err := asm.NewBuilder(arch, 64)
	if err != nil {
		return nil, err
	}
	emit(b)
	return b.Assemble(), nil
}

func placeholderBytes() []byte {
	var ph [8]byte
	binary.LittleEndian.PutUint64(ph[:], trampolinePlaceholder)
	return ph[:]
}

// assembleAmd64 assembles
//
//	MOVQ $addr, R11
//	JMP R11
func assembleAmd64() (trampolineTemplate, error) {
	code, err := assemble("amd64", func(b *asm.Builder) {
		mov := b.NewProg()
		mov.As = x86.AMOVQ
		mov.From.Type = obj.TYPE_CONST
		mov.From.Offset = trampolinePlaceholder
		mov.To.Type = obj.TYPE_REG
		mov.To.Reg = x86.REG_R11
		b.AddInstruction(mov)

		jmp := b.NewProg()
		jmp.As = obj.AJMP
		jmp.To.Type = obj.TYPE_REG
		jmp.To.Reg = x86.REG_R11
		b.AddInstruction(jmp)
	})
	if err != nil {
		return trampolineTemplate{}, err
	}

	at := bytes.Index(code, placeholderBytes())
	if at < 0 {
		return trampolineTemplate{}, fmt.Errorf("amd64 trampoline does not contain its address")
	}
	copy(code[at:at+8], make([]byte, 8))
	return trampolineTemplate{code: code, sites: []relocationSite{{kind: types.RelocAbs8, offset: uint32(at)}}}, nil
}

// fixedAmd64Trampoline is the encoding of
//
//	movabs r11, addr
//	jmp r11
func fixedAmd64Trampoline() trampolineTemplate {
	code := []byte{0x49, 0xbb, 0, 0, 0, 0, 0, 0, 0, 0, 0x41, 0xff, 0xe3}
	return trampolineTemplate{code: code, sites: []relocationSite{{kind: types.RelocAbs8, offset: 2}}}
}

// assembleArm64 assembles
//
//	MOVD $addr, R17
//	JMP (R17)
//
// The assembler materializes the address either from a literal pool or with a MOVZ/MOVK sequence.
func assembleArm64() (trampolineTemplate, error) {
	code, err := assemble("arm64", func(b *asm.Builder) {
		mov := b.NewProg()
		mov.As = arm64.AMOVD
		mov.From.Type = obj.TYPE_CONST
		mov.From.Offset = trampolinePlaceholder
		mov.To.Type = obj.TYPE_REG
		mov.To.Reg = arm64.REG_R17
		b.AddInstruction(mov)

		br := b.NewProg()
		br.As = obj.AJMP
		br.To.Type = obj.TYPE_MEM
		br.To.Reg = arm64.REG_R17
		b.AddInstruction(br)
	})
	if err != nil {
		return trampolineTemplate{}, err
	}

	if at := bytes.Index(code, placeholderBytes()); at >= 0 {
		copy(code[at:at+8], make([]byte, 8))
		return trampolineTemplate{code: code, sites: []relocationSite{{kind: types.RelocAbs8, offset: uint32(at)}}}, nil
	}

	var sites []relocationSite
	for off := 0; off+4 <= len(code); off += 4 {
		w := binary.LittleEndian.Uint32(code[off:])
		if w&0x1f != 17 {
			continue
		}
		// MOVZ and MOVK (64-bit) differ only in their opcode bits.
		if op := w & 0xff800000; op != 0xd2800000 && op != 0xf2800000 {
			continue
		}
		hw := (w >> 21) & 3
		sites = append(sites, relocationSite{kind: types.RelocArm64Movw0 + types.RelocationKind(hw), offset: uint32(off)})
		binary.LittleEndian.PutUint32(code[off:], w&^(0xffff<<5))
	}
	if len(sites) == 0 {
		return trampolineTemplate{}, fmt.Errorf("arm64 trampoline does not contain its address")
	}
	return trampolineTemplate{code: code, sites: sites}, nil
}

// fixedArm64Trampoline is the encoding of
//
//	ldr x17, #8
//	br x17
//	.quad addr
func fixedArm64Trampoline() trampolineTemplate {
	code := []byte{
		0x51, 0x00, 0x00, 0x58,
		0x20, 0x02, 0x1f, 0xd6,
		0, 0, 0, 0, 0, 0, 0, 0,
	}
	return trampolineTemplate{code: code, sites: []relocationSite{{kind: types.RelocAbs8, offset: 8}}}
}
