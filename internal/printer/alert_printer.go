package printer

import (
	"fmt"
	"io"

	"github.com/mozilla-ai/fleetd/internal/api"
	"github.com/mozilla-ai/fleetd/internal/cmd/output"
)

var _ output.Printer[api.Alert] = (*AlertPrinter)(nil)

type AlertPrinter struct {
	frame[api.Alert]
}

func NewAlertPrinter() *AlertPrinter {
	return &AlertPrinter{}
}

func (p *AlertPrinter) Item(w io.Writer, a api.Alert) error {
	_, _ = fmt.Fprintf(w, "%s  %s  [%s]  %s\n", formatTime(a.Timestamp), a.Type, formatList(a.Servers), a.Message)
	return nil
}
