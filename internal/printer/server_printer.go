package printer

import (
	"fmt"
	"io"

	"github.com/mozilla-ai/fleetd/internal/api"
	"github.com/mozilla-ai/fleetd/internal/cmd/output"
)

var _ output.Printer[api.Server] = (*ServerPrinter)(nil)

// ServerPrinter prints the status of supervised servers.
type ServerPrinter struct {
	frame[api.Server]
}

func NewServerPrinter() *ServerPrinter {
	p := &ServerPrinter{}
	p.SetHeader(countHeader[api.Server]("server"))
	return p
}

// Item outputs the status of a single server.
func (p *ServerPrinter) Item(w io.Writer, s api.Server) error {
	_, _ = fmt.Fprintf(w, "%s [%s]\n", s.Name, s.State)

	if s.PID > 0 {
		_, _ = fmt.Fprintf(w, "  PID: %d\n", s.PID)
	}
	if s.StartedAt != nil {
		_, _ = fmt.Fprintf(w, "  Started: %s\n", formatTime(*s.StartedAt))
	}
	_, _ = fmt.Fprintf(w, "  Restarts: %d\n", s.RestartCount)
	_, _ = fmt.Fprintf(w, "  Tools: %s\n", formatList(s.Tools))

	if s.LastHealth != nil {
		_, _ = fmt.Fprintf(w, "  Health: %s (%s)\n", s.LastHealth.Status, formatTime(s.LastHealth.Timestamp))
	}
	if s.Resources != nil {
		_, _ = fmt.Fprintf(w, "  CPU: %.1f%%  Memory: %.1f%%\n", s.Resources.CPUPercent, s.Resources.MemoryPercent)
	}
	if s.LastError != "" {
		_, _ = fmt.Fprintf(w, "  Last error: %s\n", s.LastError)
	}

	_, _ = fmt.Fprintln(w, "")

	return nil
}
