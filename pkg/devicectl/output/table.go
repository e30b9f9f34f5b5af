package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/telekom/devicectl/pkg/devicectl/auth"
	"github.com/telekom/devicectl/pkg/devicectl/config"
)

// WriteTokenSummaryTable prints what was obtained without any credential.
func WriteTokenSummaryTable(w io.Writer, s auth.TokenSummary) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SUBJECT\tTYPE\tSCOPE\tEXPIRES\tREFRESH\tID_TOKEN")
	_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
		orDash(s.Subject), orDash(s.TokenType), orDash(s.Scope), formatTime(s.Expiry),
		yesNo(s.HasRefreshToken), yesNo(s.HasIDToken))
	_ = tw.Flush()
}

func WriteProfileTable(w io.Writer, profiles []config.Profile, current string) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CURRENT\tNAME\tENDPOINT\tCLIENT_ID\tSCOPES\tHEADLESS")
	for _, p := range profiles {
		marker := ""
		if p.Name == current {
			marker = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			marker, p.Name, orDash(p.Endpoint), orDash(p.ClientID), orDash(strings.Join(p.Scopes, ",")), yesNo(p.Headless))
	}
	_ = tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
