package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/labring/testreport/pkg/common"
	"github.com/labring/testreport/pkg/config"
	"github.com/labring/testreport/pkg/store"
)

type treeRow struct {
	item  *store.Item
	depth int
}

// treeOrder lists items depth first, siblings in start order
func treeOrder(items []*store.Item) []treeRow {
	children := make(map[string][]*store.Item)
	for _, item := range items {
		children[item.ParentID] = append(children[item.ParentID], item)
	}

	var rows []treeRow
	var walk func(parentID string, depth int)
	walk = func(parentID string, depth int) {
		for _, item := range children[parentID] {
			rows = append(rows, treeRow{item: item, depth: depth})
			walk(item.ID, depth+1)
		}
	}
	walk("", 0)
	return rows
}

func colorStatus(s common.Status) string {
	switch s {
	case common.StatusPassed:
		return text.FgGreen.Sprint(s)
	case common.StatusFailed, common.StatusInterrupted:
		return text.FgRed.Sprint(s)
	case common.StatusSkipped:
		return text.FgYellow.Sprint(s)
	default:
		return string(s)
	}
}

func duration(start time.Time, end *time.Time) string {
	if end == nil {
		return "-"
	}
	return end.Sub(start).Round(time.Millisecond).String()
}

// printLaunch renders a launch and its item tree
func printLaunch(w io.Writer, details *store.LaunchDetails) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("%s (%s)", details.Launch.Name, details.Launch.ID))
	t.AppendHeader(table.Row{"Item", "Type", "Status", "Logs", "Retry", "Duration"})

	logs := 0
	for _, row := range treeOrder(details.Items) {
		item := row.item
		logs += item.LogCount

		retry := ""
		if item.Retry {
			retry = "yes"
		}
		t.AppendRow(table.Row{
			strings.Repeat("  ", row.depth) + item.Name,
			item.Type,
			colorStatus(item.Status),
			item.LogCount,
			retry,
			duration(item.StartTime, item.EndTime),
		})
	}

	t.AppendFooter(table.Row{
		fmt.Sprintf("%d items", len(details.Items)),
		"",
		colorStatus(details.Launch.Status),
		logs,
		"",
		duration(details.Launch.StartTime, details.Launch.EndTime),
	})
	t.Render()
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

// printParameters renders effective listener parameters, secrets masked
func printParameters(w io.Writer, p *config.ListenerParameters) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Parameter", "Value"})
	t.AppendRows([]table.Row{
		{"endpoint", p.Endpoint},
		{"project", p.Project},
		{"launch", p.Launch},
		{"description", p.Description},
		{"uuid", mask(p.UUID)},
		{"mode", p.Mode},
		{"tags", strings.Join(p.Tags, ";")},
		{"enable", p.Enable},
		{"skipped_an_issue", p.SkippedAnIssue},
		{"batch_size_logs", p.BatchLogsSize},
		{"convert_image", p.ConvertImage},
		{"reporting_timeout", p.ReportingTimeout()},
		{"keystore", p.Keystore},
		{"keystore_password", mask(p.KeystorePassword)},
		{"rerun", p.Rerun},
	})
	t.Render()
}
