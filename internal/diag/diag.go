// Package diag prints relayed protocol traffic, one line per message, for a
// human watching the relay's stdout.
package diag

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/muesli/termenv"

	"github.com/philsphicas/inspectrelay/internal/protocol"
)

// Tags used for the two connection roles.
const (
	TagFrontend = "Frontend"
	TagBackend  = "Backend"
)

// methodWidth is the column width the method name is padded to.
const methodWidth = 17

// Printer writes diagnostic lines. It is safe for concurrent use; lines
// from different connections never interleave mid-line.
type Printer struct {
	mu  sync.Mutex
	w   io.Writer
	out *termenv.Output
}

// New returns a Printer writing to w. Colors are used only when color is
// true and w is a terminal that supports them.
func New(w io.Writer, color bool) *Printer {
	var opts []termenv.OutputOption
	if !color {
		opts = append(opts, termenv.WithProfile(termenv.Ascii))
	}
	return &Printer{w: w, out: termenv.NewOutput(w, opts...)}
}

// Event prints "[tag] chunk chunk ...".
func (p *Printer) Event(tag string, chunks ...any) {
	if p == nil {
		return
	}
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, fmt.Sprint(c))
	}
	p.line(tag, strings.Join(parts, " "))
}

// Message prints one relayed payload. A payload that does not decode is
// printed raw and the decode error is returned for accounting only.
func (p *Printer) Message(tag string, data []byte) error {
	if p == nil {
		return nil
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		p.line(tag, rawLine(data))
		return err
	}

	id := "-"
	if msg.ID != nil {
		id = fmt.Sprint(*msg.ID)
	}
	body := msg.CompactParams()
	if msg.IsReply() {
		body = msg.CompactResult()
	}
	method := p.out.String(fmt.Sprintf("%-*s", methodWidth, msg.Method)).
		Foreground(termenv.ANSIBrightWhite).String()
	p.line(tag, strings.TrimRight(id+" "+method+" "+body, " "))
	return nil
}

func (p *Printer) line(tag, text string) {
	styled := p.out.String(tag).Foreground(termenv.ANSICyan).String()
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[%s] %s\n", styled, text)
}

// rawLine renders an undecodable payload on a single line: whitespace runs,
// newlines included, collapse to one space and invalid UTF-8 is replaced.
func rawLine(data []byte) string {
	s := strings.ToValidUTF8(string(data), "\uFFFD")
	return strings.Join(strings.Fields(s), " ")
}
