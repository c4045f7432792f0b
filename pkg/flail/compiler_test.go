package flail

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"testing"
)

// TestCompileScenarios covers the reference scripts and their byte streams
func TestCompileScenarios(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []byte
	}{
		{"intensity forward", "Forward(0.5);", []byte{0x2, 50, 0}},
		{"distance chunked", "SetMode(distance); Forward(300);", []byte{0xB, 2, 0x2, 255, 0x2, 45, 0}},
		{"inline repeat", "Repeat 2 { Left(0.2); }", []byte{0x4, 20, 0x4, 20, 0}},
		{"conflict reset", "Left(0.5); Left(0); Right(0.5);", []byte{0x4, 50, 0x4, 0, 0x5, 50, 0}},
		{"empty script", "", []byte{0}},
		{"comments only", "# nothing here\n   \n", []byte{0}},
		{"space syntax", "Ascend 0.3", []byte{0x1, 30, 0}},
		{"wait in intensity mode", "Wait(600);", []byte{0x9, 255, 0x9, 255, 0x9, 90, 0}},
		{"command without parameter", "Forward;", []byte{0}},
		{"trailing comment", "Descend(0.1) # slowly", []byte{0x8, 10, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := CompileString(tt.script)
			if err != nil {
				t.Fatalf("CompileString(%q) failed: %v", tt.script, err)
			}
			if got := prog.Bytes(); !bytes.Equal(got, tt.want) {
				t.Errorf("Expected bytes %v, got %v", tt.want, got)
			}
		})
	}
}

// TestCompileErrors checks that every fatal condition maps to its sentinel
func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantErr error
	}{
		{"conflict", "Left(0.5); Right(0.5);", ErrConflict},
		{"intensity out of range", "Ascend(1.5);", ErrParameterRange},
		{"negative intensity", "Ascend(-0.5);", ErrParameterRange},
		{"intensity not a number", "Ascend(fast);", ErrParameterRange},
		{"distance not an integer", "SetMode(distance); Forward(1.5);", ErrParameterRange},
		{"negative wait", "Wait(-1);", ErrParameterRange},
		{"unknown command", "Unknown(1);", ErrUnknownCommand},
		{"lowercase command", "forward(0.5);", ErrUnknownCommand},
		{"stray block end", "};", ErrUnknownCommand},
		{"missing separator", "Forward(0.5) Left(0.2)", ErrTokenization},
		{"nested repeat", "Repeat 2 {\nRepeat 3 {\n}\n}", ErrNestedLoop},
		{"unclosed repeat", "Repeat 2 {\nLeft(0.2);", ErrUnclosedLoop},
		{"repeat without count", "Repeat;", ErrRepeatSyntax},
		{"repeat bad opener", "Repeat 2 [", ErrRepeatSyntax},
		{"repeat bad count", "Repeat two {", ErrRepeatSyntax},
		{"text after block end", "Repeat 2 {\nLeft(0.2);\n} Left", ErrTokenization},
		{"line too long", "Forward(0.5);" + strings.Repeat(" ", 300), ErrTokenization},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := CompileString(tt.script)
			if err == nil {
				t.Fatalf("Expected error for %q, got program %v", tt.script, prog.Bytes())
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			var ce *CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("Expected *CompileError, got %T", err)
			}
			if ce.Category == "" {
				t.Error("Category should not be empty")
			}
		})
	}
}

// TestCompileErrorReportsLocation checks line and command in error messages
func TestCompileErrorReportsLocation(t *testing.T) {
	_, err := CompileString("Forward(0.5);\nUnknown(1);\n")
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected *CompileError, got %v", err)
	}
	if ce.Line != 2 {
		t.Errorf("Expected line 2, got %d", ce.Line)
	}
	if ce.Command != "Unknown" {
		t.Errorf("Expected command Unknown, got %q", ce.Command)
	}
	msg := err.Error()
	for _, part := range []string{"UNKNOWN COMMAND", "IN LINE 2", "[Unknown]"} {
		if !strings.Contains(msg, part) {
			t.Errorf("Error message %q should contain %q", msg, part)
		}
	}
}

func TestConflictIgnoredInDistanceMode(t *testing.T) {
	prog, err := CompileString("SetMode(distance); Left(10); Right(20);")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := []byte{0xB, 2, 0x4, 10, 0x5, 20, 0}
	if !bytes.Equal(prog.Bytes(), want) {
		t.Errorf("Expected %v, got %v", want, prog.Bytes())
	}
}

func TestConflictStateSurvivesModeSwitch(t *testing.T) {
	// Flags set in distance mode still count once intensity mode is back.
	_, err := CompileString("SetMode(distance); Left(10); SetMode(intensity); Right(0.5);")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Expected conflict error, got %v", err)
	}
}

func TestTrackerDoesNotTouchPartner(t *testing.T) {
	c := NewCompiler()
	if err := c.CompileLine("SetMode(distance); Forward(5); Backward(0);"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !c.Active(OpForward) {
		t.Error("Forward should stay active after Backward(0)")
	}
	if c.Active(OpBackward) {
		t.Error("Backward should not be active")
	}
	if err := c.CompileLine("Forward(0)"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if c.Active(OpForward) {
		t.Error("Forward should be inactive after Forward(0)")
	}
}

// TestUnknownModeIsWarning checks that SetMode with an unknown name keeps going
func TestUnknownModeIsWarning(t *testing.T) {
	prog, err := CompileString("SetMode(Distance);\nForward(0.5);")
	if err != nil {
		t.Fatalf("Unknown mode should not be fatal: %v", err)
	}
	want := []byte{0xB, 1, 0x2, 50, 0}
	if !bytes.Equal(prog.Bytes(), want) {
		t.Errorf("Expected %v, got %v", want, prog.Bytes())
	}
	if len(prog.Warnings) != 1 {
		t.Fatalf("Expected 1 warning, got %d", len(prog.Warnings))
	}
	w := prog.Warnings[0]
	if w.Line != 1 || w.Command != "SetMode" {
		t.Errorf("Unexpected warning %+v", w)
	}
	if prog.Mode != ModeIntensity {
		t.Errorf("Mode should stay intensity, got %s", prog.Mode)
	}
}

func TestRepeatBlockAcrossLines(t *testing.T) {
	script := `Ascend(0.5)
Repeat 3 {
  Forward(0.2); Wait(1)
  Forward(0)
}
Ascend(0)`
	prog, err := CompileString(script)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	body := []byte{0x2, 20, 0x9, 1, 0x2, 0}
	want := []byte{0x1, 50}
	for i := 0; i < 3; i++ {
		want = append(want, body...)
	}
	want = append(want, 0x1, 0, 0)

	if !bytes.Equal(prog.Bytes(), want) {
		t.Errorf("Expected %v, got %v", want, prog.Bytes())
	}
	if prog.Lines != 6 {
		t.Errorf("Expected 6 lines, got %d", prog.Lines)
	}
}

func TestRepeatCopies(t *testing.T) {
	for _, n := range []int{0, 1, 2, 7} {
		c := NewCompiler()
		if err := c.CompileStatement([]string{"Repeat", strconv.Itoa(n), "{"}); err != nil {
			t.Fatalf("Repeat %d: %v", n, err)
		}
		if !c.Recording() {
			t.Fatalf("Repeat %d: compiler should be recording", n)
		}
		if err := c.CompileLine("Right(0.3); Wait(2)"); err != nil {
			t.Fatalf("Repeat %d body: %v", n, err)
		}
		if c.Len() != 0 {
			t.Errorf("Repeat %d: main stream should be empty while recording, has %d bytes", n, c.Len())
		}
		if err := c.CompileLine("}"); err != nil {
			t.Fatalf("Repeat %d close: %v", n, err)
		}
		if c.Recording() {
			t.Errorf("Repeat %d: compiler should be back to normal", n)
		}
		prog, err := c.Finish()
		if err != nil {
			t.Fatalf("Repeat %d finish: %v", n, err)
		}
		want := bytes.Repeat([]byte{0x5, 30, 0x9, 2}, n)
		if !bytes.Equal(prog.Code(), want) {
			t.Errorf("Repeat %d: expected %v, got %v", n, want, prog.Code())
		}
	}
}

func TestSequentialRepeatBlocks(t *testing.T) {
	prog, err := CompileString("Repeat 2 { Left(0.1); }\nRepeat 1 { Forward(0); }")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := []byte{0x4, 10, 0x4, 10, 0x2, 0, 0}
	if !bytes.Equal(prog.Bytes(), want) {
		t.Errorf("Expected %v, got %v", want, prog.Bytes())
	}
}

func TestCompilerRefusesInputAfterFailure(t *testing.T) {
	c := NewCompiler()
	if err := c.CompileLine("Bogus(1)"); err == nil {
		t.Fatal("Expected an error")
	}
	err := c.CompileLine("Forward(0.5)")
	if !errors.Is(err, ErrCompilerFailed) {
		t.Errorf("Expected ErrCompilerFailed, got %v", err)
	}
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Expected the original cause to be wrapped, got %v", err)
	}
	if _, err := c.Finish(); !errors.Is(err, ErrCompilerFailed) {
		t.Errorf("Finish should fail too, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("No bytes should have been emitted, got %d", c.Len())
	}
}

func TestCompilerRefusesInputAfterFinish(t *testing.T) {
	c := NewCompiler()
	if _, err := c.Finish(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := c.CompileLine("Forward(0.5)"); !errors.Is(err, ErrCompilerFinished) {
		t.Errorf("Expected ErrCompilerFinished, got %v", err)
	}
}

func TestCompilerOptions(t *testing.T) {
	t.Run("initial mode", func(t *testing.T) {
		prog, err := CompileString("Forward(300)", WithInitialMode(ModeDistance))
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		want := []byte{0x2, 255, 0x2, 45, 0}
		if !bytes.Equal(prog.Bytes(), want) {
			t.Errorf("Expected %v, got %v", want, prog.Bytes())
		}
	})

	t.Run("max parameter", func(t *testing.T) {
		_, err := CompileString("Wait(5000)", WithMaxParameter(1000))
		if !errors.Is(err, ErrParameterRange) {
			t.Errorf("Expected ErrParameterRange, got %v", err)
		}
	})

	t.Run("line length disabled", func(t *testing.T) {
		line := "Forward(0.5);" + strings.Repeat(" ", 400)
		if _, err := CompileString(line, WithMaxLineLength(0)); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	})
}


func TestRepeatProgramSizeLimit(t *testing.T) {
	t.Run("huge repetition count", func(t *testing.T) {
		src := "Repeat 50000000 {\nForward(0.5); Forward(0.4); Forward(0.3);\n}"
		_, err := CompileString(src, WithMaxParameter(65535), WithMaxProgramSize(1<<20))
		if !errors.Is(err, ErrProgramSize) {
			t.Fatalf("Expected ErrProgramSize, got %v", err)
		}
		var ce *CompileError
		if !errors.As(err, &ce) || ce.Category != CategorySize || ce.Command != CmdRepeat {
			t.Errorf("Unexpected error details %+v", ce)
		}
	})

	t.Run("default limit", func(t *testing.T) {
		_, err := CompileString("Repeat 9223372036854775807 { Left(0.1); }")
		if !errors.Is(err, ErrProgramSize) {
			t.Errorf("Expected ErrProgramSize, got %v", err)
		}
	})

	t.Run("exactly at the limit", func(t *testing.T) {
		// 3 copies of 2 bytes plus the sentinel.
		prog, err := CompileString("Repeat 3 { Left(0.1); }", WithMaxProgramSize(7))
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if prog.Size() != 7 {
			t.Errorf("Expected 7 bytes, got %d", prog.Size())
		}
		if _, err := CompileString("Repeat 4 { Left(0.1); }", WithMaxProgramSize(7)); !errors.Is(err, ErrProgramSize) {
			t.Errorf("Expected ErrProgramSize, got %v", err)
		}
	})

	t.Run("plain instructions", func(t *testing.T) {
		_, err := CompileString("Left(0.1); Left(0.2); Left(0.3);", WithMaxProgramSize(5))
		if !errors.Is(err, ErrProgramSize) {
			t.Errorf("Expected ErrProgramSize, got %v", err)
		}
	})

	t.Run("empty body repeated often", func(t *testing.T) {
		if _, err := CompileString("Repeat 1000000000 { }"); err != nil {
			t.Errorf("An empty body adds nothing: %v", err)
		}
	})
}
