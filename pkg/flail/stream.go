package flail

// initialStreamCapacity is the capacity of a fresh stream; it doubles
// whenever an append would overflow it.
const initialStreamCapacity = 16

// Pair is one (opcode, value) entry of a compiled program.
type Pair struct {
	OpCode OpCode
	Value  byte
}

// ByteStream is an append-only byte buffer. Once finalized it carries a
// trailing zero sentinel and accepts no more bytes.
type ByteStream struct {
	buf       []byte
	finalized bool
}

// NewByteStream returns an empty stream.
func NewByteStream() *ByteStream {
	return &ByteStream{buf: make([]byte, 0, initialStreamCapacity)}
}

// grow makes room for n more bytes by doubling the capacity.
func (s *ByteStream) grow(n int) {
	need := len(s.buf) + n
	if need <= cap(s.buf) {
		return
	}
	newCap := cap(s.buf)
	if newCap == 0 {
		newCap = initialStreamCapacity
	}
	for newCap < need {
		newCap *= 2
	}
	buf := make([]byte, len(s.buf), newCap)
	copy(buf, s.buf)
	s.buf = buf
}

// Append adds bytes to the end of the stream.
func (s *ByteStream) Append(b ...byte) {
	if s.finalized {
		panic("flail: append to finalized byte stream")
	}
	s.grow(len(b))
	s.buf = append(s.buf, b...)
}

// AppendPair adds one (opcode, value) pair.
func (s *ByteStream) AppendPair(op OpCode, value byte) {
	s.Append(byte(op), value)
}

// Len returns the number of bytes, sentinel included.
func (s *ByteStream) Len() int {
	return len(s.buf)
}

// Cap returns the current capacity.
func (s *ByteStream) Cap() int {
	return cap(s.buf)
}

// Bytes returns a copy of the stream contents.
func (s *ByteStream) Bytes() []byte {
	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	return out
}

// Reset empties the stream and keeps its capacity.
func (s *ByteStream) Reset() {
	s.buf = s.buf[:0]
	s.finalized = false
}

// Finalize appends the zero sentinel and freezes the stream. Calling it twice
// has no effect.
func (s *ByteStream) Finalize() {
	if s.finalized {
		return
	}
	s.Append(0)
	s.finalized = true
}

// Finalized reports whether Finalize was called.
func (s *ByteStream) Finalized() bool {
	return s.finalized
}

// Pairs groups the stream into (opcode, value) pairs. The sentinel is not
// part of the result.
func (s *ByteStream) Pairs() []Pair {
	code := s.buf
	if s.finalized {
		code = code[:len(code)-1]
	}
	return pairsOf(code)
}

func pairsOf(code []byte) []Pair {
	pairs := make([]Pair, 0, len(code)/2)
	for i := 0; i+1 < len(code); i += 2 {
		pairs = append(pairs, Pair{OpCode: OpCode(code[i]), Value: code[i+1]})
	}
	return pairs
}
