package engine

import (
	"fmt"
	"io"
	"os"

	"github.com/sionet/sionet/internal/sync"
	"github.com/xiegeo/coloredgoroutine"
)

type (
	Debugger interface {
		Log(main string, v ...any)
		WithContext(context string) Debugger
	}

	noopDebugger struct{}

	printDebugger struct {
		stdout  io.Writer
		context string
	}
)

func NewNoopDebugger() Debugger { return noopDebugger{} }

func (d noopDebugger) Log(main string, _ ...any) {}

func (d noopDebugger) WithContext(context string) Debugger { return d }

// NewPrintDebugger writes to stdout, coloring output per goroutine so
// interleaved session logs stay readable.
func NewPrintDebugger() Debugger {
	return &printDebugger{stdout: coloredgoroutine.Colors(os.Stdout)}
}

var printMu sync.Mutex

func (d *printDebugger) Log(main string, _v ...any) {
	printMu.Lock()
	defer printMu.Unlock()

	if len(d.context) != 0 {
		fmt.Fprint(d.stdout, d.context)
		if len(main) != 0 || len(_v) != 0 {
			fmt.Fprint(d.stdout, ": ")
		}
	}
	if len(main) != 0 {
		fmt.Fprint(d.stdout, main)
		if len(_v) != 0 {
			fmt.Fprint(d.stdout, ": ")
		}
	}
	for i, v := range _v {
		if i != 0 {
			fmt.Fprint(d.stdout, ": ")
		}
		fmt.Fprint(d.stdout, v)
	}
	fmt.Fprint(d.stdout, "\n")
	os.Stdout.Sync()
}

func (d printDebugger) WithContext(context string) Debugger {
	d.context = context
	return &d
}
