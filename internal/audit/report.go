package audit

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/votingplatform/election-ledger/internal/ledger"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow)
	dimColor  = color.New(color.Faint)
)

// PrintReport renders a verification report for operators. source names what
// was verified (a database path or a snapshot file).
func PrintReport(w io.Writer, source string, report ledger.Report, headerErr error) {
	fmt.Fprintf(w, "Ledger: %s\n", source)
	fmt.Fprintf(w, "Entries checked: %d\n", report.Checked)

	if headerErr != nil {
		warnColor.Fprintf(w, "  ! %v\n", headerErr)
	}

	if report.Valid {
		okColor.Fprintln(w, "✓ Chain intact")
		return
	}

	failColor.Fprintf(w, "✗ Chain broken: %d link, %d content mismatches\n",
		report.Count(ledger.LinkMismatch), report.Count(ledger.ContentMismatch))
	for _, b := range report.Breaks {
		fmt.Fprintf(w, "  #%-6d %-16s\n", b.EntryID, b.Kind)
		dimColor.Fprintf(w, "          expected %s\n", b.Expected)
		dimColor.Fprintf(w, "          actual   %s\n", b.Actual)
	}
}
