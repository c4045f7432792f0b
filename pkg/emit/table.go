package emit

import (
	"fmt"
	"io"

	"github.com/antibyte/flail/pkg/flail"

	"github.com/jedib0t/go-pretty/v6/table"
)

// PairTable writes one row per (opcode, value) pair. The meaning column
// follows the SetMode pairs, starting from the given mode.
func PairTable(w io.Writer, prog *flail.Program, initial flail.Mode) error {
	pairs := prog.Pairs()

	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Program (%d pairs, %d bytes)", len(pairs), prog.Size()))
	t.AppendHeader(table.Row{"#", "Op", "Command", "Value", "Meaning"})

	mode := initial
	for i, p := range pairs {
		if p.OpCode == flail.OpSetMode {
			mode = flail.Mode(p.Value)
		}
		t.AppendRow(table.Row{i, fmt.Sprintf("0x%x", byte(p.OpCode)), p.OpCode.String(), p.Value, meaning(p, mode)})
	}

	_, err := io.WriteString(w, t.Render()+"\n")
	return err
}

func meaning(p flail.Pair, mode flail.Mode) string {
	switch p.OpCode {
	case flail.OpSetMode:
		return mode.String()
	case flail.OpWait:
		return fmt.Sprintf("%d s", p.Value)
	case flail.OpWaitMili:
		return fmt.Sprintf("%d ms", p.Value)
	}
	if mode == flail.ModeIntensity {
		return fmt.Sprintf("%d%%", p.Value)
	}
	return fmt.Sprintf("%d", p.Value)
}
