package filter

import (
	"fmt"

	"golang.org/x/net/bpf"

	"firestige.xyz/fabric/internal/protocol"
)

type program struct {
	vm *bpf.VM
}

// BPF returns a leaf running a classic BPF program over the raw bytes of
// the outermost layer. The packet matches when the program accepts a
// non-zero length.
func BPF(prog []bpf.Instruction) (Match, error) {
	vm, err := bpf.NewVM(prog)
	if err != nil {
		return nil, fmt.Errorf("invalid BPF program: %w", err)
	}
	return program{vm}, nil
}

// RawBPF is BPF for programs in their encoded form, as emitted by
// `tcpdump -dd`.
func RawBPF(raw []bpf.RawInstruction) (Match, error) {
	prog, ok := bpf.Disassemble(raw)
	if !ok {
		return nil, fmt.Errorf("invalid BPF program: unknown instruction")
	}
	return BPF(prog)
}

func (p program) Match(o protocol.Onion) bool {
	if len(o) == 0 {
		return false
	}
	outer := o[0]
	data := append(append([]byte(nil), outer.LayerContents()...), outer.LayerPayload()...)
	n, err := p.vm.Run(data)
	return err == nil && n > 0
}
