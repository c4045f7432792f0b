package flail

import (
	"errors"
	"fmt"
)

// ErrMalformedProgram is returned by ProgramFromBytes for byte slices that
// are not a finalized stream.
var ErrMalformedProgram = errors.New("malformed program")

// Program is the result of a successful compilation pass. Its bytes never
// change.
type Program struct {
	code []byte // finalized stream, sentinel included

	Mode     Mode // mode in effect at the end of the script
	Lines    int  // source lines read
	Warnings []Warning
}

// ProgramFromBytes rebuilds a program from a finalized stream, for example
// one loaded from the build store.
func ProgramFromBytes(b []byte) (*Program, error) {
	if len(b) == 0 || b[len(b)-1] != 0 {
		return nil, fmt.Errorf("%w: missing zero sentinel", ErrMalformedProgram)
	}
	if (len(b)-1)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of code bytes (%d)", ErrMalformedProgram, len(b)-1)
	}
	code := make([]byte, len(b))
	copy(code, b)
	return &Program{code: code}, nil
}

// Bytes returns the finalized stream including the zero sentinel.
func (p *Program) Bytes() []byte {
	out := make([]byte, len(p.code))
	copy(out, p.code)
	return out
}

// Code returns the (opcode, value) bytes without the sentinel.
func (p *Program) Code() []byte {
	return p.Bytes()[:len(p.code)-1]
}

// Pairs returns the program as (opcode, value) pairs.
func (p *Program) Pairs() []Pair {
	return pairsOf(p.code[:len(p.code)-1])
}

// Size returns the stream length including the sentinel.
func (p *Program) Size() int {
	return len(p.code)
}

// Empty reports whether the program holds no instructions.
func (p *Program) Empty() bool {
	return len(p.code) <= 1
}
