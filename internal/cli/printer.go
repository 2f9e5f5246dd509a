package cli

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/TheusHen/toxcore/toxcore/logging"
)

// printer writes node log records as "[LEVEL] file:line(func): message".
// TRACE records are skipped unless trace is set.
type printer struct {
	mu    sync.Mutex
	w     io.Writer
	trace bool
}

func newPrinter(w io.Writer, trace bool) *printer {
	return &printer{w: w, trace: trace}
}

func (p *printer) Log(level slog.Level, src logging.Source, msg string) {
	if level <= logging.LevelTrace && !p.trace {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[%s] %s:%d(%s): %s\n", logging.LevelName(level), filepath.Base(src.File), src.Line, src.Func, msg)
}
