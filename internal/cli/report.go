package cli

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dshills/nodequeue/internal/app"
)

// Report is the system summary printed after build, flush and status
type Report struct {
	MemoryBytes uint64
	Elapsed     time.Duration
	Queue       string
	Status      *app.QueueStatus
	Err         error // Set when the queue could not be counted
}

// collectReport gathers memory and queue counts for queueName
func collectReport(ctx context.Context, a *app.App, queueName string, started time.Time) Report {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	report := Report{
		MemoryBytes: mem.Sys,
		Elapsed:     time.Since(started),
		Queue:       queueName,
	}
	report.Status, report.Err = a.QueueStatus(ctx, queueName)
	return report
}

// writeReport renders the report
func writeReport(w io.Writer, r Report) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Memory Usage   : %s\n", humanize.Bytes(r.MemoryBytes))
	fmt.Fprintf(w, "Execution time : %.3f seconds\n", r.Elapsed.Seconds())
	fmt.Fprintf(w, "Indexing Queue : %s\n", r.Queue)
	if r.Err != nil || r.Status == nil {
		fmt.Fprintf(w, "Pending Jobs   : Error, queue %s not found, %v\n", r.Queue, r.Err)
		return
	}
	fmt.Fprintf(w, "Pending Jobs   : %s\n", humanize.Comma(int64(r.Status.Pending)))
	fmt.Fprintf(w, "Reserved Jobs  : %s\n", humanize.Comma(int64(r.Status.Reserved)))
	fmt.Fprintf(w, "Failed Jobs    : %s\n", humanize.Comma(int64(r.Status.Failed)))
}
