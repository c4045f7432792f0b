// Package flail compiles flail motion scripts into the byte stream that the
// flight controller firmware and the Unity simulator consume.
//
// A script is a sequence of statements such as
//
//	SetMode(distance); Forward(300);
//	Repeat 2 { Left(0.2); }
//
// and compiles to (opcode, value) byte pairs followed by a zero sentinel.
package flail

import "fmt"

// OpCode identifies a command in the output stream.
type OpCode byte

// Instruction opcodes. Zero is never emitted as an opcode, it terminates the
// finalized stream.
const (
	OpNone      OpCode = 0x0
	OpAscend    OpCode = 0x1
	OpForward   OpCode = 0x2
	OpBackward  OpCode = 0x3
	OpLeft      OpCode = 0x4
	OpRight     OpCode = 0x5
	OpRollLeft  OpCode = 0x6
	OpRollRight OpCode = 0x7
	OpDescend   OpCode = 0x8
	OpWait      OpCode = 0x9
	OpWaitMili  OpCode = 0xA
	OpSetMode   OpCode = 0xB
)

// Control words. They steer the loop buffer and have no opcode.
const (
	CmdRepeat    = "Repeat"
	CmdEndRepeat = "}"
	BlockOpen    = "{"
)

// Mode selects how numeric parameters are interpreted.
type Mode byte

const (
	// ModeIntensity expects fractions of the maximum actuation (0.0 - 1.0).
	ModeIntensity Mode = 1
	// ModeDistance expects absolute integer magnitudes.
	ModeDistance Mode = 2
)

// String returns the spelling used by SetMode.
func (m Mode) String() string {
	switch m {
	case ModeIntensity:
		return "intensity"
	case ModeDistance:
		return "distance"
	default:
		return fmt.Sprintf("mode(%d)", byte(m))
	}
}

// ParseMode resolves a SetMode argument. Names are case-sensitive.
func ParseMode(name string) (Mode, bool) {
	switch name {
	case "intensity":
		return ModeIntensity, true
	case "distance":
		return ModeDistance, true
	}
	return 0, false
}

// Instruction is an entry of the instruction catalog.
type Instruction struct {
	Name   string
	OpCode OpCode
	// Conflict is the opposite command that must be inactive before this one
	// is accepted. OpNone for commands without an opposite.
	Conflict OpCode
	// Wait marks duration parameters, always encoded as integers.
	Wait bool
}

// Directional reports whether the instruction takes part in conflict tracking.
func (i Instruction) Directional() bool {
	return i.Conflict != OpNone
}

var catalog = []Instruction{
	{Name: "Ascend", OpCode: OpAscend, Conflict: OpDescend},
	{Name: "Forward", OpCode: OpForward, Conflict: OpBackward},
	{Name: "Backward", OpCode: OpBackward, Conflict: OpForward},
	{Name: "Left", OpCode: OpLeft, Conflict: OpRight},
	{Name: "Right", OpCode: OpRight, Conflict: OpLeft},
	{Name: "RollLeft", OpCode: OpRollLeft, Conflict: OpRollRight},
	{Name: "RollRight", OpCode: OpRollRight, Conflict: OpRollLeft},
	{Name: "Descend", OpCode: OpDescend, Conflict: OpAscend},
	{Name: "Wait", OpCode: OpWait, Wait: true},
	{Name: "WaitMili", OpCode: OpWaitMili, Wait: true},
	{Name: "SetMode", OpCode: OpSetMode},
}

var (
	byName   = make(map[string]Instruction, len(catalog))
	byOpCode = make(map[OpCode]Instruction, len(catalog))
)

func init() {
	for _, inst := range catalog {
		byName[inst.Name] = inst
		byOpCode[inst.OpCode] = inst
	}
}

// Lookup finds the catalog entry for a command name.
func Lookup(name string) (Instruction, bool) {
	inst, ok := byName[name]
	return inst, ok
}

// ByOpCode finds the catalog entry for an opcode.
func ByOpCode(op OpCode) (Instruction, bool) {
	inst, ok := byOpCode[op]
	return inst, ok
}

// Catalog returns a copy of the instruction table in opcode order.
func Catalog() []Instruction {
	out := make([]Instruction, len(catalog))
	copy(out, catalog)
	return out
}

// String returns the command name of the opcode.
func (op OpCode) String() string {
	if inst, ok := ByOpCode(op); ok {
		return inst.Name
	}
	return fmt.Sprintf("0x%x", byte(op))
}
