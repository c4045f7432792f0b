// Package emit renders compiled programs for their consumers: a bracketed
// dump for the console, a C boilerplate for the flight controller and a hex
// text file for the simulator.
package emit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/antibyte/flail/pkg/configuration"
	"github.com/antibyte/flail/pkg/flail"
	"github.com/antibyte/flail/pkg/logger"
)

// ErrEmptyProgram is returned when a program without instructions is
// rendered as C source.
var ErrEmptyProgram = errors.New("empty bytes array, check your input file")

// Default output file names
const (
	DefaultBoilerplateFile = "boilerplate.c"
	DefaultHexFile         = "byteArray.txt"
)

// Dump writes the program as "Byte Array -> [op (value), ...]".
func Dump(w io.Writer, prog *flail.Program) error {
	var b strings.Builder
	b.WriteString("Byte Array -> [")
	for _, p := range prog.Pairs() {
		fmt.Fprintf(&b, "%d (%d), ", p.OpCode, p.Value)
	}
	b.WriteString("]\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// HexText writes the program bytes, sentinel excluded, as space separated
// 0x.. values.
func HexText(w io.Writer, prog *flail.Program) error {
	code := prog.Code()
	parts := make([]string, len(code))
	for i, c := range code {
		parts[i] = fmt.Sprintf("0x%x", c)
	}
	_, err := io.WriteString(w, strings.Join(parts, " "))
	return err
}

// cField is one member of the generated Instructions struct.
type cField struct {
	Field string // struct member
	Label string // text printed by interpretBytes
	Hex   string
}

var cNames = map[flail.OpCode][2]string{
	flail.OpAscend:    {"ascend", "Ascend"},
	flail.OpForward:   {"forward", "Forward"},
	flail.OpBackward:  {"backward", "Backwards"},
	flail.OpLeft:      {"left", "Left"},
	flail.OpRight:     {"right", "Right"},
	flail.OpRollLeft:  {"rollL", "RollL"},
	flail.OpRollRight: {"rollR", "RollR"},
	flail.OpDescend:   {"descend", "Descend"},
	flail.OpWait:      {"wait", "Wait"},
	flail.OpWaitMili:  {"waitMili", "WaitMili"},
	flail.OpSetMode:   {"setMode", "SetMode"},
}

type boilerplateData struct {
	Fields []cField
	Size   int
	Bytes  []string
}

var boilerplateTemplate = template.Must(template.New("boilerplate").Parse(`#include <stdio.h>
#include <stdlib.h>
#include <string.h>

typedef unsigned char byte;

typedef struct {
{{- range .Fields}}
	byte {{.Field}};
{{- end}}
} Instructions;

// Association of specific bytes to instructions
const Instructions inst = {
{{- range .Fields}}
	.{{.Field}} = {{.Hex}},
{{- end}}
};

size_t size = {{.Size}};

byte bytes[{{.Size}}] = { {{- range .Bytes}}{{.}}, {{end}}'\0'};

void interpretBytes() {
	int i;
	int param;

	for (i = 0; i < size - 1; i += 2) {
		param = (int)bytes[i+1];
		switch(bytes[i]) {
{{- range .Fields}}
			case {{.Hex}}:
				printf("{{.Label}} (%d)\n", param);
				break;
{{- end}}
			default:
				break;
		}
	}
}

int main() {
	interpretBytes();
}
`))

// Boilerplate writes C source embedding the program and an interpreter that
// prints every instruction.
func Boilerplate(w io.Writer, prog *flail.Program) error {
	if prog.Empty() {
		return ErrEmptyProgram
	}

	data := boilerplateData{Size: prog.Size()}
	for _, inst := range flail.Catalog() {
		names, ok := cNames[inst.OpCode]
		if !ok {
			continue
		}
		data.Fields = append(data.Fields, cField{
			Field: names[0],
			Label: names[1],
			Hex:   fmt.Sprintf("0x%x", byte(inst.OpCode)),
		})
	}
	for _, c := range prog.Code() {
		data.Bytes = append(data.Bytes, fmt.Sprintf("0x%x", c))
	}
	return boilerplateTemplate.Execute(w, data)
}

// WriteFiles writes the boilerplate and the hex text into dir, replacing
// earlier copies. File names come from the [Output] section.
func WriteFiles(dir string, prog *flail.Program) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	outputs := []struct {
		name   string
		render func(io.Writer, *flail.Program) error
	}{
		{configuration.GetString("Output", "boilerplate_file", DefaultBoilerplateFile), Boilerplate},
		{configuration.GetString("Output", "hex_file", DefaultHexFile), HexText},
	}

	var written []string
	for _, out := range outputs {
		path := filepath.Join(dir, out.name)
		if err := writeFile(path, prog, out.render); err != nil {
			return written, err
		}
		logger.Info(logger.AreaEmit, "Wrote %s (%d bytes of program)", path, prog.Size())
		written = append(written, path)
	}
	return written, nil
}

func writeFile(path string, prog *flail.Program, render func(io.Writer, *flail.Program) error) error {
	// Render first so a failure leaves any earlier file untouched.
	var b strings.Builder
	if err := render(&b, prog); err != nil {
		return fmt.Errorf("rendering %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
