// Package golang_asm assembles reference instruction sequences with the Go
// assembler, so thunk encoders can be checked against an independent
// implementation.
package golang_asm

import (
	"fmt"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
)

// Assembler collects instructions for one architecture.
type Assembler struct {
	b *goasm.Builder
}

// NewAssembler returns an Assembler for a GOARCH supported by golang-asm.
func NewAssembler(arch string) (*Assembler, error) {
	b, err := goasm.NewBuilder(arch, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to create a new assembly builder: %w", err)
	}
	return &Assembler{b: b}, nil
}

// ConstToRegister adds "instruction $value, reg".
func (a *Assembler) ConstToRegister(instruction obj.As, value int64, reg int16) {
	p := a.b.NewProg()
	p.As = instruction
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = value
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	a.b.AddInstruction(p)
}

// MemoryToRegister adds "instruction offset(base), reg".
func (a *Assembler) MemoryToRegister(instruction obj.As, base int16, offset int64, reg int16) {
	p := a.b.NewProg()
	p.As = instruction
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = base
	p.From.Offset = offset
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	a.b.AddInstruction(p)
}

// JumpToMemory adds an indirect jump through offset(base). On load-store
// architectures base holds the target itself and offset must be zero.
func (a *Assembler) JumpToMemory(base int16, offset int64) {
	p := a.b.NewProg()
	p.As = obj.AJMP
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = base
	p.To.Offset = offset
	a.b.AddInstruction(p)
}

// Assemble returns the machine code of the instructions added so far,
// possibly followed by function alignment padding.
func (a *Assembler) Assemble() []byte {
	return a.b.Assemble()
}
