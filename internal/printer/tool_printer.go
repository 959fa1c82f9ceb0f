package printer

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/mozilla-ai/fleetd/internal/api"
	"github.com/mozilla-ai/fleetd/internal/cmd/output"
)

var _ output.Printer[api.Tool] = (*ToolPrinter)(nil)

// ToolPrinter prints the tools advertised by a server.
type ToolPrinter struct {
	frame[api.Tool]
}

// NewToolPrinter returns a ToolPrinter whose header names the server the tools belong to.
func NewToolPrinter(server string) *ToolPrinter {
	p := &ToolPrinter{}
	p.SetHeader(func(w io.Writer, count int) {
		_, _ = fmt.Fprintf(w, "Tools for '%s' (%d total):\n", server, count)
	})
	return p
}

func (p *ToolPrinter) Item(w io.Writer, tool api.Tool) error {
	_, _ = fmt.Fprintf(w, "  %s\n", tool.Name)

	if desc := strings.TrimSpace(tool.Description); desc != "" {
		_, _ = fmt.Fprintf(w, "    %s\n", desc)
	}

	if tool.InputSchema != nil && len(tool.InputSchema.Properties) > 0 {
		args := make([]string, 0, len(tool.InputSchema.Properties))
		for name := range tool.InputSchema.Properties {
			if slices.Contains(tool.InputSchema.Required, name) {
				name += "*"
			}
			args = append(args, name)
		}
		slices.Sort(args)
		_, _ = fmt.Fprintf(w, "    Args: %s\n", strings.Join(args, ", "))
	}

	return nil
}
