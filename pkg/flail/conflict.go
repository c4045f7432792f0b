package flail

// conflictTracker remembers which directional instructions are active, i.e.
// whose last parameter was greater than zero.
type conflictTracker struct {
	active map[OpCode]bool
}

func newConflictTracker() conflictTracker {
	return conflictTracker{active: make(map[OpCode]bool)}
}

// conflicts reports whether the opposite of inst is currently active.
func (t conflictTracker) conflicts(inst Instruction) bool {
	if !inst.Directional() {
		return false
	}
	return t.active[inst.Conflict]
}

// track records the parameter of an encoded instruction. The opposite
// instruction keeps its flag.
func (t conflictTracker) track(inst Instruction, value int) {
	if !inst.Directional() {
		return
	}
	t.active[inst.OpCode] = value > 0
}

func (t conflictTracker) isActive(op OpCode) bool {
	return t.active[op]
}
