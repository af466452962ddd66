package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"devsync-go/internal/api"
	"devsync-go/internal/device"
	"devsync-go/internal/util"
)

// finish prints the outcome of one call and turns a failure into the matching exit code.
// table renders the human form of data and is skipped for failures and --json.
func (c *cli) finish(data any, err error, table func(w io.Writer)) error {
	resp := api.OK(data)
	if err != nil {
		resp = api.Fail(err, nil)
	}
	if c.jsonOutput() {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(resp); encErr != nil {
			return encErr
		}
	} else if err == nil {
		table(c.out)
	} else {
		fmt.Fprintf(c.errOut, "error [%s]: %s\n", resp.Error.Code, resp.Error.Message)
	}
	if err != nil {
		return &exitError{code: api.ExitCode(resp.Error.Code), err: err}
	}
	return nil
}

func deviceTable(w io.Writer, devices []device.Device) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tNAME\tSTATUS\tSYNCS\tLAST SYNC\tLAST ERROR")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			d.ID, d.Type, d.DisplayName, d.Status, d.SyncCount, formatTime(d.LastSync), truncate(d.LastError, 48))
	}
	_ = tw.Flush()
}

func deviceDetail(w io.Writer, d device.Device) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id:\t%s\n", d.ID)
	fmt.Fprintf(tw, "type:\t%s\n", d.Type)
	fmt.Fprintf(tw, "name:\t%s\n", d.DisplayName)
	fmt.Fprintf(tw, "status:\t%s\n", d.Status)
	fmt.Fprintf(tw, "capabilities:\t%s\n", strings.Join(d.Capabilities, ", "))
	// values may be secrets; only keys are shown
	fmt.Fprintf(tw, "config keys:\t%s\n", strings.Join(util.ConfigKeys(d.Config), ", "))
	fmt.Fprintf(tw, "sync count:\t%d\n", d.SyncCount)
	fmt.Fprintf(tw, "last sync:\t%s\n", formatTime(d.LastSync))
	if d.LastError != "" {
		fmt.Fprintf(tw, "last error:\t%s\n", d.LastError)
	}
	_ = tw.Flush()
}

func formatTime(ts *time.Time) string {
	if ts == nil {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
