package flail

import (
	"fmt"
	"math"
	"strconv"
)

const (
	// chunkSize is the largest value a single value byte carries in
	// distance mode and for waits.
	chunkSize = 255
	// maxIntensity is the largest percentage accepted in intensity mode.
	maxIntensity = 100
	// MaxChunkedBytes is the largest encoding EncodeChunked produces.
	MaxChunkedBytes = math.MaxInt32
)

// encode computes the bytes of one instruction, opcode included, and the
// numeric value used for conflict tracking. Nothing is emitted on error.
func (c *Compiler) encode(inst Instruction, raw string) ([]byte, int, error) {
	switch {
	case inst.OpCode == OpSetMode:
		return c.encodeSetMode(inst, raw), 0, nil

	case inst.Wait || c.mode == ModeDistance:
		p, err := c.parseMagnitude(inst, raw)
		if err != nil {
			return nil, 0, err
		}
		if size := ChunkedSize(p); !c.fits(size) {
			return nil, 0, newError(ErrParameterRange, inst.Name,
				fmt.Sprintf("%d needs %d bytes, the program limit is %d bytes", p, size, c.maxProgramSize))
		}
		code, err := EncodeChunked(inst.OpCode, p)
		if err != nil {
			return nil, 0, newError(ErrParameterRange, inst.Name, err.Error())
		}
		return code, p, nil

	default:
		value, err := EncodeIntensity(raw)
		if err != nil {
			return nil, 0, newError(ErrParameterRange, inst.Name, err.Error())
		}
		return []byte{byte(inst.OpCode), value}, int(value), nil
	}
}

// encodeSetMode switches the interpretation mode. An unknown mode name only
// produces a warning; the mode stays as it was and its value is emitted.
func (c *Compiler) encodeSetMode(inst Instruction, raw string) []byte {
	if mode, ok := ParseMode(raw); ok {
		c.mode = mode
	} else {
		c.warn(inst.Name, fmt.Sprintf("unknown mode %q, accepted modes are 'intensity' and 'distance'", raw))
	}
	return []byte{byte(inst.OpCode), byte(c.mode)}
}

// parseMagnitude parses the non-negative integer of a wait or a distance
// mode command.
func (c *Compiler) parseMagnitude(inst Instruction, raw string) (int, error) {
	p, err := strconv.Atoi(raw)
	if err != nil {
		return 0, newError(ErrParameterRange, inst.Name,
			fmt.Sprintf("%q is not an integer (mode %s)", raw, c.mode))
	}
	if p < 0 {
		return 0, newError(ErrParameterRange, inst.Name, fmt.Sprintf("%d is negative", p))
	}
	if c.maxParameter > 0 && p > c.maxParameter {
		return 0, newError(ErrParameterRange, inst.Name,
			fmt.Sprintf("%d exceeds the limit of %d", p, c.maxParameter))
	}
	return p, nil
}

// ChunkedSize returns the number of bytes EncodeChunked produces for p,
// opcodes included. p must not be negative.
func ChunkedSize(p int) int {
	if p <= chunkSize {
		return 2
	}
	pairs := p / chunkSize
	if p%chunkSize > 0 {
		pairs++
	}
	return 2 * pairs
}

// EncodeChunked encodes an integer parameter into (opcode, value) pairs. Up
// to 255 it is a single pair. Larger values are split into 255 chunks plus a
// remainder pair, each repeating the opcode, so that the value bytes add up
// to p. Encodings longer than MaxChunkedBytes are refused.
func EncodeChunked(op OpCode, p int) ([]byte, error) {
	if p < 0 {
		return nil, fmt.Errorf("%d is negative", p)
	}
	size := ChunkedSize(p)
	if size > MaxChunkedBytes {
		return nil, fmt.Errorf("%d needs %d bytes, more than %d", p, size, MaxChunkedBytes)
	}
	if p <= chunkSize {
		return []byte{byte(op), byte(p)}, nil
	}
	rep := p / chunkSize
	remainder := p % chunkSize

	out := make([]byte, 0, size)
	out = append(out, byte(op), chunkSize)
	for i := 1; i < rep; i++ {
		out = append(out, byte(op), chunkSize)
	}
	if remainder > 0 {
		out = append(out, byte(op), byte(remainder))
	}
	return out, nil
}

// EncodeIntensity converts a fraction in [0.0, 1.0] into a percentage byte,
// rounding to the nearest integer.
func EncodeIntensity(raw string) (byte, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not a number", raw)
	}
	value := math.Round(f * 100)
	if value > maxIntensity || value < 0 {
		return 0, fmt.Errorf("%s is outside 0..%d, use values between 0.0 and 1.0",
			strconv.FormatFloat(value, 'f', -1, 64), maxIntensity)
	}
	return byte(value), nil
}
