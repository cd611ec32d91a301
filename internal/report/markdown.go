// Package report renders sites and checks as Markdown for the CLI.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"

	"github.com/JakeFAU/page-analyzer/internal/analyzer"
)

const timeFormat = "2006-01-02 15:04:05 MST"

// WriteSites renders the site list with each site's latest check.
func WriteSites(w io.Writer, sites []analyzer.SiteSummary) error {
	md := markdown.NewMarkdown(w)
	md.H1("Sites")
	md.PlainText("")
	if len(sites) == 0 {
		md.PlainText("No sites registered.")
		return md.Build()
	}

	rows := make([][]string, 0, len(sites))
	for _, s := range sites {
		lastChecked, status := "never", "-"
		if s.LatestCheck != nil {
			lastChecked = formatTime(s.LatestCheck.CheckedAt)
			status = statusText(s.LatestCheck.StatusCode)
		}
		rows = append(rows, []string{
			strconv.FormatInt(s.Site.ID, 10),
			cell(s.Site.Name),
			lastChecked,
			status,
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"ID", "Name", "Last Check", "Status"},
		Rows:   rows,
	})
	return md.Build()
}

// WriteSubmissions renders the outcome of registering one or more URLs.
func WriteSubmissions(w io.Writer, subs []analyzer.Submission) error {
	md := markdown.NewMarkdown(w)
	md.H1("Submitted Sites")
	md.PlainText("")
	rows := make([][]string, 0, len(subs))
	for _, sub := range subs {
		state := "existing"
		if sub.Created {
			state = "created"
		}
		rows = append(rows, []string{strconv.FormatInt(sub.SiteID, 10), cell(sub.Name), state})
	}
	md.Table(markdown.TableSet{
		Header: []string{"ID", "Name", "Result"},
		Rows:   rows,
	})
	return md.Build()
}

// WriteSitePage renders one site and its check history.
func WriteSitePage(w io.Writer, page analyzer.SitePage) error {
	md := markdown.NewMarkdown(w)
	md.H1(page.Site.Name)
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"ID", strconv.FormatInt(page.Site.ID, 10)},
			{"Registered", formatTime(page.Site.RegisteredAt)},
			{"Checks", strconv.Itoa(len(page.Checks))},
		},
	})
	md.PlainText("")
	md.H2("Checks")
	md.PlainText("")
	if len(page.Checks) == 0 {
		md.PlainText("No checks yet.")
		return md.Build()
	}
	md.Table(markdown.TableSet{
		Header: []string{"ID", "Status", "H1", "Title", "Description", "Checked At"},
		Rows:   checkRows(page.Checks),
	})
	return md.Build()
}

// WriteCheckResults renders the outcome of a batch of checks. Failures are
// listed after the recorded checks.
func WriteCheckResults(w io.Writer, results []analyzer.CheckSummary, failures map[int64]error) error {
	md := markdown.NewMarkdown(w)
	md.H1("Check Results")
	md.PlainText("")
	if len(results) > 0 {
		rows := make([][]string, 0, len(results))
		for _, r := range results {
			rows = append(rows, []string{
				strconv.FormatInt(r.Check.SiteID, 10),
				cell(r.SiteName),
				statusText(r.Check.StatusCode),
				cell(r.Check.Title),
				formatTime(r.Check.CheckedAt),
			})
		}
		md.Table(markdown.TableSet{
			Header: []string{"Site", "Name", "Status", "Title", "Checked At"},
			Rows:   rows,
		})
		md.PlainText("")
	}
	if len(failures) > 0 {
		md.H2("Failures")
		md.PlainText("")
		items := make([]string, 0, len(failures))
		for id, err := range failures {
			items = append(items, fmt.Sprintf("site %d: %v", id, err))
		}
		sort.Strings(items)
		md.BulletList(items...)
	}
	return md.Build()
}

func checkRows(checks []analyzer.Check) [][]string {
	rows := make([][]string, 0, len(checks))
	for _, c := range checks {
		rows = append(rows, []string{
			strconv.FormatInt(c.ID, 10),
			statusText(c.StatusCode),
			cell(c.H1),
			cell(c.Title),
			cell(c.Description),
			formatTime(c.CheckedAt),
		})
	}
	return rows
}

func statusText(code *int) string {
	if code == nil {
		return "-"
	}
	return strconv.Itoa(*code)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// cell flattens whitespace and escapes pipes so a value stays in one table cell.
func cell(v string) string {
	v = strings.Join(strings.Fields(v), " ")
	return strings.ReplaceAll(v, "|", `\|`)
}
