// Package reporter formats runtime status for the console.
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vegas-max/titan-arb/pkg/types"
)

// OutputFormat specifies the report format.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// Reporter prints scan and execution summaries.
type Reporter struct {
	output  io.Writer
	format  OutputFormat
	verbose bool

	mu      sync.Mutex
	history []*types.ExecutionResult
	maxHist int
}

// NewReporter creates a reporter. A nil output writes to stdout.
func NewReporter(output io.Writer, format OutputFormat, verbose bool) *Reporter {
	if output == nil {
		output = os.Stdout
	}
	return &Reporter{
		output:  output,
		format:  format,
		verbose: verbose,
		maxHist: 1000,
	}
}

// Observe keeps a result in the in-memory history.
func (r *Reporter) Observe(result *types.ExecutionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, result)
	if len(r.history) > r.maxHist {
		r.history = r.history[1:]
	}
}

// ReportScan prints a scan-cycle summary.
func (r *Reporter) ReportScan(stats types.ScanStats) {
	if r.format == FormatJSON {
		data, err := json.Marshal(stats)
		if err == nil {
			fmt.Fprintln(r.output, string(data))
		}
		return
	}

	uptime := time.Since(stats.StartTime).Round(time.Second)
	fmt.Fprintf(r.output, "\n%s\n", strings.Repeat("-", 64))
	fmt.Fprintf(r.output, "  uptime %s | cycles %d | routes %d | opportunities %d | signals %d",
		uptime, stats.TotalCycles, stats.RoutesEvaluated, stats.OpportunitiesFound, stats.SignalsPublished)
	if stats.Errors > 0 {
		fmt.Fprintf(r.output, " | errors %d", stats.Errors)
	}
	fmt.Fprintf(r.output, "\n%s\n", strings.Repeat("-", 64))
}

// ReportResults prints the recent execution outcomes.
func (r *Reporter) ReportResults() {
	r.mu.Lock()
	recent := make([]*types.ExecutionResult, len(r.history))
	copy(recent, r.history)
	r.mu.Unlock()

	if len(recent) == 0 {
		if r.verbose {
			fmt.Fprintln(r.output, "  no executions yet")
		}
		return
	}

	if r.format == FormatJSON {
		data, err := json.Marshal(recent)
		if err == nil {
			fmt.Fprintln(r.output, string(data))
		}
		return
	}

	var wins, losses int
	for _, res := range recent {
		switch res.Status {
		case types.StatusSuccess, types.StatusSimulated:
			wins++
		case types.StatusReverted, types.StatusTimeout:
			losses++
		}
	}
	fmt.Fprintf(r.output, "  executions: %d total, %d settled, %d failed\n", len(recent), wins, losses)

	if r.verbose {
		n := len(recent)
		if n > 5 {
			n = 5
		}
		for _, res := range recent[len(recent)-n:] {
			line := fmt.Sprintf("    %s chain=%d %s %s", res.SignalID, res.ChainID, res.TokenSymbol, res.Status)
			if res.TxHash != "" {
				line += " tx=" + res.TxHash[:10]
			}
			if res.Reason != "" {
				line += " (" + res.Reason + ")"
			}
			fmt.Fprintln(r.output, line)
		}
	}
}
