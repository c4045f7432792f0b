package emit

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/antibyte/flail/pkg/flail"
)

func compile(t *testing.T, src string) *flail.Program {
	t.Helper()
	prog, err := flail.CompileString(src)
	if err != nil {
		t.Fatalf("Failed to compile %q: %v", src, err)
	}
	return prog
}

func TestDump(t *testing.T) {
	var buf bytes.Buffer
	if err := Dump(&buf, compile(t, "SetMode(distance); Forward(300);")); err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	want := "Byte Array -> [11 (2), 2 (255), 2 (45), ]\n"
	if buf.String() != want {
		t.Errorf("Expected %q, got %q", want, buf.String())
	}
}

func TestHexText(t *testing.T) {
	var buf bytes.Buffer
	if err := HexText(&buf, compile(t, "Forward(0.5); Wait(20)")); err != nil {
		t.Fatalf("HexText failed: %v", err)
	}
	if want := "0x2 0x32 0x9 0x14"; buf.String() != want {
		t.Errorf("Expected %q, got %q", want, buf.String())
	}

	buf.Reset()
	if err := HexText(&buf, compile(t, "")); err != nil {
		t.Fatalf("HexText failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Empty program should produce no text, got %q", buf.String())
	}
}

func TestBoilerplate(t *testing.T) {
	var buf bytes.Buffer
	if err := Boilerplate(&buf, compile(t, "Left(0.2)")); err != nil {
		t.Fatalf("Boilerplate failed: %v", err)
	}
	src := buf.String()

	for _, want := range []string{
		"size_t size = 3;",
		"byte bytes[3] = {0x4, 0x14, '\\0'};",
		".rollR = 0x7,",
		".setMode = 0xb,",
		"case 0xa:",
		`printf("WaitMili (%d)\n", param);`,
		"int main() {",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("Boilerplate should contain %q\n%s", want, src)
		}
	}

	// Every case ends with a break.
	if cases, breaks := strings.Count(src, "case 0x"), strings.Count(src, "break;"); breaks != cases+1 {
		t.Errorf("Expected %d breaks for %d cases, got %d", cases+1, cases, breaks)
	}
}

func TestBoilerplateEmptyProgram(t *testing.T) {
	var buf bytes.Buffer
	err := Boilerplate(&buf, compile(t, "# nothing"))
	if !errors.Is(err, ErrEmptyProgram) {
		t.Errorf("Expected ErrEmptyProgram, got %v", err)
	}
}

func TestWriteFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	paths, err := WriteFiles(dir, compile(t, "Ascend(1)"))
	if err != nil {
		t.Fatalf("WriteFiles failed: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("Expected 2 files, got %v", paths)
	}

	hex, err := os.ReadFile(filepath.Join(dir, DefaultHexFile))
	if err != nil {
		t.Fatalf("Reading hex file: %v", err)
	}
	if string(hex) != "0x1 0x64" {
		t.Errorf("Unexpected hex file content %q", hex)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultBoilerplateFile)); err != nil {
		t.Errorf("Boilerplate file missing: %v", err)
	}
}

func TestWriteFilesEmptyProgramKeepsOldFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, DefaultBoilerplateFile)
	if err := os.WriteFile(old, []byte("previous"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := WriteFiles(dir, compile(t, "")); !errors.Is(err, ErrEmptyProgram) {
		t.Fatalf("Expected ErrEmptyProgram, got %v", err)
	}
	content, _ := os.ReadFile(old)
	if string(content) != "previous" {
		t.Errorf("Existing boilerplate should be left alone, got %q", content)
	}
}
