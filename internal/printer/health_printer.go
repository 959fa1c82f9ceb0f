package printer

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/mozilla-ai/fleetd/internal/api"
	"github.com/mozilla-ai/fleetd/internal/cmd/output"
)

var (
	_ output.Printer[api.HealthRecord] = (*HealthRecordPrinter)(nil)
	_ output.Printer[api.HealthReport] = (*HealthReportPrinter)(nil)
)

// HealthRecordPrinter prints the outcome of individual health polls.
type HealthRecordPrinter struct {
	frame[api.HealthRecord]
}

func NewHealthRecordPrinter() *HealthRecordPrinter {
	return &HealthRecordPrinter{}
}

func (p *HealthRecordPrinter) Item(w io.Writer, rec api.HealthRecord) error {
	_, _ = fmt.Fprintf(w, "%s  %-9s  %s  latency=%s\n", formatTime(rec.Timestamp), rec.Status, rec.Server, rec.Latency)

	if rec.Resources != nil {
		_, _ = fmt.Fprintf(
			w,
			"    pid=%d cpu=%.1f%% mem=%.1f%%\n",
			rec.Resources.PID,
			rec.Resources.CPUPercent,
			rec.Resources.MemoryPercent,
		)
	}
	for _, issue := range rec.Issues {
		_, _ = fmt.Fprintf(w, "    - %s\n", issue)
	}

	return nil
}

// HealthReportPrinter prints a summary of the latest poll of every server.
type HealthReportPrinter struct {
	frame[api.HealthReport]
	records *HealthRecordPrinter
	alerts  *AlertPrinter
}

func NewHealthReportPrinter() *HealthReportPrinter {
	p := &HealthReportPrinter{
		records: NewHealthRecordPrinter(),
		alerts:  NewAlertPrinter(),
	}
	p.SetFooter(separatorFooter[api.HealthReport]())
	return p
}

func (p *HealthReportPrinter) Item(w io.Writer, report api.HealthReport) error {
	_, _ = fmt.Fprintf(w, "Health report at %s\n", formatTime(report.Timestamp))
	_, _ = fmt.Fprintf(
		w,
		"  Total: %d  Healthy: %d  Unhealthy: %d  Missing: %d\n",
		report.Total,
		report.Healthy,
		report.Unhealthy,
		report.Missing,
	)

	if len(report.PerServer) > 0 {
		_, _ = fmt.Fprintln(w, "")
		for _, name := range slices.Sorted(maps.Keys(report.PerServer)) {
			if err := p.records.Item(w, report.PerServer[name]); err != nil {
				return err
			}
		}
	}

	if len(report.Alerts) > 0 {
		_, _ = fmt.Fprintln(w, "\nAlerts:")
		for _, a := range report.Alerts {
			if err := p.alerts.Item(w, a); err != nil {
				return err
			}
		}
	}

	return nil
}
