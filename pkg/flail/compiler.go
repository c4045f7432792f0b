package flail

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/antibyte/flail/pkg/logger"
)

// DefaultMaxProgramSize is the largest program a compiler produces unless
// WithMaxProgramSize says otherwise, sentinel included.
const DefaultMaxProgramSize = 16 << 20

// maxScanLine bounds what the line reader buffers before the line length
// check gets a chance to reject the line.
const maxScanLine = 1 << 20

// Compiler holds the state of one compilation pass: interpretation mode,
// active directional instructions, the repeat block being recorded and the
// output stream. A Compiler is not safe for concurrent use; run one per
// script.
type Compiler struct {
	mode     Mode
	tracker  conflictTracker
	loop     loopState
	stream   *ByteStream
	warnings []Warning

	line      int
	statement string

	maxLineLength  int
	maxParameter   int
	maxProgramSize int

	err      error
	finished bool
}

// loopState tracks a Repeat block while its body is being recorded.
type loopState struct {
	recording   bool
	repetitions int
	startLine   int
	buffer      *ByteStream
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithMaxLineLength sets the longest accepted source line in bytes. Zero or
// less disables the check.
func WithMaxLineLength(n int) Option {
	return func(c *Compiler) {
		c.maxLineLength = n
	}
}

// WithInitialMode sets the mode in effect before the first SetMode.
func WithInitialMode(mode Mode) Option {
	return func(c *Compiler) {
		if mode == ModeIntensity || mode == ModeDistance {
			c.mode = mode
		}
	}
}

// WithMaxParameter rejects integer parameters above n. Zero means no limit.
func WithMaxParameter(n int) Option {
	return func(c *Compiler) {
		c.maxParameter = n
	}
}

// WithMaxProgramSize sets the largest program in bytes, sentinel included.
// Values below 1 keep DefaultMaxProgramSize.
func WithMaxProgramSize(n int) Option {
	return func(c *Compiler) {
		if n > 0 {
			c.maxProgramSize = n
		}
	}
}

// NewCompiler creates a compiler in intensity mode with nothing recorded.
func NewCompiler(opts ...Option) *Compiler {
	c := &Compiler{
		mode:          ModeIntensity,
		tracker:       newConflictTracker(),
		stream:        NewByteStream(),
		loop:          loopState{buffer: NewByteStream()},
		maxLineLength:  DefaultMaxLineLength,
		maxProgramSize: DefaultMaxProgramSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mode returns the current interpretation mode.
func (c *Compiler) Mode() Mode {
	return c.mode
}

// Recording reports whether a Repeat block is open.
func (c *Compiler) Recording() bool {
	return c.loop.recording
}

// Active reports whether a directional instruction is currently active.
func (c *Compiler) Active(op OpCode) bool {
	return c.tracker.isActive(op)
}

// Warnings returns the warnings collected so far.
func (c *Compiler) Warnings() []Warning {
	out := make([]Warning, len(c.warnings))
	copy(out, c.warnings)
	return out
}

// Len returns the number of bytes in the main stream.
func (c *Compiler) Len() int {
	return c.stream.Len()
}

// CompileLine compiles one source line. Lines are numbered in call order.
func (c *Compiler) CompileLine(line string) error {
	if err := c.usable(); err != nil {
		return err
	}
	c.line++
	line = strings.TrimRight(line, "\r\n")

	if c.maxLineLength > 0 && len(line) > c.maxLineLength {
		return c.fail(newError(ErrTokenization, "",
			fmt.Sprintf("line is %d bytes long, the limit is %d", len(line), c.maxLineLength)))
	}
	if IsBlank(line) {
		return nil
	}

	for _, stmt := range SplitStatements(line) {
		c.statement = strings.TrimSpace(stmt)
		if err := c.compileWords(TruncateComment(SplitWords(stmt))); err != nil {
			return c.fail(err)
		}
	}
	c.statement = ""
	return nil
}

// CompileStatement compiles a statement that is already split into words.
func (c *Compiler) CompileStatement(words []string) error {
	if err := c.usable(); err != nil {
		return err
	}
	c.statement = strings.Join(words, " ")
	defer func() { c.statement = "" }()

	if err := c.compileWords(TruncateComment(words)); err != nil {
		return c.fail(err)
	}
	return nil
}

// Finish closes the pass and returns the finalized program.
func (c *Compiler) Finish() (*Program, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	if c.loop.recording {
		err := newError(ErrUnclosedLoop, CmdRepeat,
			fmt.Sprintf("block opened in line %d", c.loop.startLine))
		return nil, c.fail(err)
	}

	c.stream.Finalize()
	c.finished = true
	logger.CompilerDebug("Compilation finished: %d lines, %d bytes", c.line, c.stream.Len())

	return &Program{
		code:     c.stream.Bytes(),
		Mode:     c.mode,
		Lines:    c.line,
		Warnings: c.Warnings(),
	}, nil
}

func (c *Compiler) usable() error {
	if c.err != nil {
		return fmt.Errorf("%w: %w", ErrCompilerFailed, c.err)
	}
	if c.finished {
		return ErrCompilerFinished
	}
	return nil
}

// fail records a fatal error. The compiler refuses further input afterwards.
func (c *Compiler) fail(err error) error {
	if ce, ok := err.(*CompileError); ok {
		if ce.Line == 0 {
			ce.Line = c.line
		}
		if ce.Statement == "" {
			ce.Statement = c.statement
		}
	}
	c.err = err
	logger.CompilerDebug("Compilation aborted: %v", err)
	return err
}

func (c *Compiler) warn(command, message string) {
	w := Warning{Line: c.line, Command: command, Message: message}
	c.warnings = append(c.warnings, w)
	logger.CompilerInfo("%s", w)
}

// target is the stream receiving encoded bytes: the loop buffer while a
// Repeat block is recorded, the main stream otherwise.
func (c *Compiler) target() *ByteStream {
	if c.loop.recording {
		return c.loop.buffer
	}
	return c.stream
}

// fits reports whether n more bytes for the current target keep the program
// within its size limit. While a block is recorded its body counts once.
func (c *Compiler) fits(n int) bool {
	used := c.stream.Len() + 1
	if c.loop.recording {
		used += c.loop.buffer.Len()
	}
	return n <= c.maxProgramSize-used
}

func (c *Compiler) compileWords(words []string) error {
	if len(words) == 0 {
		return nil
	}
	cmd := words[0]

	if cmd == CmdRepeat {
		return c.compileRepeat(words)
	}

	// Command plus one parameter. More words mean a missing ';'.
	if len(words) > 2 {
		return newError(ErrTokenization, cmd,
			fmt.Sprintf("%d words in one statement", len(words)))
	}

	if cmd == CmdEndRepeat && c.loop.recording {
		return c.closeRepeat(words)
	}

	inst, ok := Lookup(cmd)
	if !ok {
		return newError(ErrUnknownCommand, cmd, "")
	}
	if len(words) < 2 {
		return nil
	}
	return c.compileInstruction(inst, words[1])
}

func (c *Compiler) compileInstruction(inst Instruction, param string) error {
	if c.tracker.conflicts(inst) && c.mode != ModeDistance {
		return newError(ErrConflict, inst.Name,
			fmt.Sprintf("%s must be reset to 0 first", inst.Conflict))
	}

	code, value, err := c.encode(inst, param)
	if err != nil {
		return err
	}
	if !c.fits(len(code)) {
		return newError(ErrProgramSize, inst.Name,
			fmt.Sprintf("the program limit is %d bytes", c.maxProgramSize))
	}
	c.target().Append(code...)
	c.tracker.track(inst, value)
	return nil
}

func (c *Compiler) compileRepeat(words []string) error {
	if len(words) < 2 {
		return newError(ErrRepeatSyntax, CmdRepeat, "missing number of repetitions")
	}
	if len(words) >= 3 && words[2] != BlockOpen {
		return newError(ErrRepeatSyntax, CmdRepeat,
			fmt.Sprintf("expected '%s' but found %q", BlockOpen, words[2]))
	}
	if c.loop.recording {
		return newError(ErrNestedLoop, CmdRepeat,
			fmt.Sprintf("block opened in line %d is still open", c.loop.startLine))
	}
	n, err := strconv.Atoi(words[1])
	if err != nil || n < 0 {
		return newError(ErrRepeatSyntax, CmdRepeat,
			fmt.Sprintf("invalid number of repetitions %q", words[1]))
	}

	c.loop.recording = true
	c.loop.repetitions = n
	c.loop.startLine = c.line
	c.loop.buffer.Reset()
	logger.CompilerDebug("Recording Repeat block (%d repetitions) from line %d", n, c.line)

	// Anything after '{' is the first statement of the body.
	if len(words) > 3 {
		return c.compileWords(words[3:])
	}
	return nil
}

func (c *Compiler) closeRepeat(words []string) error {
	if len(words) > 1 {
		return newError(ErrTokenization, CmdEndRepeat,
			fmt.Sprintf("unexpected %q after '%s'", words[1], CmdEndRepeat))
	}

	body := c.loop.buffer.Bytes()
	if len(body) > 0 && c.loop.repetitions > (c.maxProgramSize-c.stream.Len()-1)/len(body) {
		return newError(ErrProgramSize, CmdRepeat,
			fmt.Sprintf("%d repetitions of %d bytes exceed the program limit of %d bytes",
				c.loop.repetitions, len(body), c.maxProgramSize))
	}
	for i := 0; i < c.loop.repetitions; i++ {
		c.stream.Append(body...)
	}
	logger.CompilerDebug("Repeat block closed: %d bytes x %d", len(body), c.loop.repetitions)

	c.loop.recording = false
	c.loop.repetitions = 0
	c.loop.buffer.Reset()
	return nil
}

// Compile reads a whole script and compiles it.
func Compile(r io.Reader, opts ...Option) (*Program, error) {
	c := NewCompiler(opts...)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxScanLine)
	for scanner.Scan() {
		if err := c.CompileLine(scanner.Text()); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return c.Finish()
}

// CompileString compiles a script held in memory.
func CompileString(src string, opts ...Option) (*Program, error) {
	return Compile(strings.NewReader(src), opts...)
}
