package app

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/stacklok/jobwatch/internal/job"
	jobsync "github.com/stacklok/jobwatch/internal/sync"
	"github.com/stacklok/jobwatch/internal/sync/supervisor"
)

// progressPrinter writes one line per observed change of a watched job
type progressPrinter struct {
	out io.Writer

	started     bool
	status      job.Status
	progress    int
	resultRef   string
	lastError   string
	connection  supervisor.State
	logsPrinted int
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out}
}

// print reports what changed since the previous update
func (p *progressPrinter) print(u jobsync.Update) {
	v := u.View

	if u.Connection != p.connection && u.Connection == supervisor.StateFailed {
		p.line("connection: event stream lost, polling for updates")
	}
	p.connection = u.Connection

	if !p.started || v.Status != p.status || v.Progress != p.progress {
		p.line("status: %s %d%%", v.Status, v.Progress)
	}

	// A snapshot can replace the log with a shorter tail; only lines past
	// what was already printed are shown.
	if len(v.LogLines) < p.logsPrinted {
		p.logsPrinted = len(v.LogLines)
	}
	for _, l := range v.LogLines[p.logsPrinted:] {
		p.line("log: %s", l)
	}
	p.logsPrinted = len(v.LogLines)

	if v.ResultRef != "" && v.ResultRef != p.resultRef {
		p.line("result: %s", v.ResultRef)
	}
	if v.LastError != "" && v.LastError != p.lastError {
		p.line("error: %s", v.LastError)
	}

	p.started = true
	p.status = v.Status
	p.progress = v.Progress
	p.resultRef = v.ResultRef
	p.lastError = v.LastError
}

func (p *progressPrinter) line(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format+"\n", args...)
}

// renderSummary prints the final state of a job as a table
func renderSummary(out io.Writer, jobID string, v job.View, logLimit int) error {
	rows := [][]string{
		{"Job", jobID},
		{"Status", string(v.Status)},
		{"Progress", strconv.Itoa(v.Progress) + "%"},
	}
	if v.ResultRef != "" {
		rows = append(rows, []string{"Result", v.ResultRef})
	}
	if v.LastError != "" {
		rows = append(rows, []string{"Error", v.LastError})
	}
	rows = append(rows, []string{"Log lines", strconv.Itoa(len(v.LogLines))})

	logs := v.LogLines
	if logLimit >= 0 && len(logs) > logLimit {
		logs = logs[len(logs)-logLimit:]
	}
	for i, l := range logs {
		label := ""
		if i == 0 {
			label = "Recent logs"
		}
		rows = append(rows, []string{label, l})
	}

	table := tablewriter.NewWriter(out)
	table.Header([]string{"Field", "Value"})
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("failed to build summary table: %w", err)
	}
	return table.Render()
}
