package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"devsync-go/internal/api"
	"devsync-go/internal/coordinator"
	"devsync-go/internal/device"
	"devsync-go/internal/registry"
)

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := c.app.Service.List(cmd.Context())
			return c.finish(out, err, func(w io.Writer) {
				deviceTable(w, out.Devices)
				fmt.Fprintf(w, "\n%d device(s)\n", out.Total)
			})
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [id]",
		Short: "Show sync status for all devices or one device",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				d, err := c.app.Service.Get(cmd.Context(), args[0])
				return c.finish(d, err, func(w io.Writer) { deviceDetail(w, d) })
			}
			out, err := c.app.Service.Status(cmd.Context())
			return c.finish(out, err, func(w io.Writer) {
				fmt.Fprintf(w, "total %d  online %d  syncing %d  error %d  connected %d  unknown %d\n\n",
					out.TotalDevices, out.OnlineDevices, out.SyncingDevices, out.ErrorDevices,
					out.ConnectedDevices, out.UnknownDevices)
				deviceTable(w, out.Devices)
			})
		},
	}
}

func (c *cli) scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Scan this machine and merge discovered devices into the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := c.app.Service.Discover(cmd.Context())
			return c.finish(out, err, func(w io.Writer) {
				deviceTable(w, out.Devices)
				fmt.Fprintf(w, "\n%d discovered, %d newly connected\n", len(out.Devices), len(out.Connected))
				for _, perr := range out.ProbeErrors {
					fmt.Fprintf(w, "skipped: %s\n", perr)
				}
			})
		},
	}
}

func (c *cli) registerCmd() *cobra.Command {
	var (
		name    string
		caps    []string
		pairs   []string
		replace bool
		reset   bool
	)
	cmd := &cobra.Command{
		Use:   "register <type>",
		Short: "Register a device manually",
		Long: `Register a device by type, e.g. removable_storage, terminal_process/v5,
credential_integration/A, or wallet_extension/keystore. Registering the same
type and name again updates the existing device.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := parsePairs(pairs)
			if err != nil {
				return c.finish(nil, err, nil)
			}
			d, err := c.app.Service.Register(cmd.Context(), api.RegisterRequest{
				Type: args[0], Name: name, Capabilities: caps, Config: cfg,
				ReplaceConfig: replace, ResetSync: reset,
			})
			return c.finish(d, err, func(w io.Writer) { deviceDetail(w, d) })
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name; also makes registration idempotent")
	cmd.Flags().StringSliceVar(&caps, "capability", nil, "capability tag (repeatable)")
	cmd.Flags().StringArrayVar(&pairs, "set", nil, "config entry key=value (repeatable)")
	cmd.Flags().BoolVar(&replace, "replace-config", false, "replace the stored config instead of merging")
	cmd.Flags().BoolVar(&reset, "reset-sync", false, "clear sync status and history of an existing device")
	return cmd
}

func (c *cli) syncCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:         "sync <id>",
		Short:       "Push one device to the coordination host",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{needsRemote: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := c.app.Service.Sync(cmd.Context(), args[0], force)
			if err != nil && d.ID != "" && !c.jsonOutput() {
				deviceDetail(c.out, d)
			}
			return c.finish(d, err, func(w io.Writer) { deviceDetail(w, d) })
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "supersede an in-flight sync")
	return cmd
}

func (c *cli) syncAllCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:         "sync-all",
		Short:       "Push every device, continuing past failures",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{needsRemote: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			sum, err := c.app.Service.SyncAll(cmd.Context(), force)
			if err := c.finish(sum, err, func(w io.Writer) { summaryTable(w, sum) }); err != nil {
				return err
			}
			if sum.Failed > 0 {
				return &exitError{code: exitFailure, err: fmt.Errorf("%d of %d devices failed", sum.Failed, sum.Total)}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "supersede in-flight syncs")
	return cmd
}

func summaryTable(w io.Writer, sum coordinator.Summary) {
	fmt.Fprintf(w, "total %d  successful %d  failed %d\n", sum.Total, sum.Successful, sum.Failed)
	if len(sum.Failures) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nID\tREASON")
	for _, f := range sum.Failures {
		fmt.Fprintf(tw, "%s\t%s\n", f.ID, f.Reason)
	}
	_ = tw.Flush()
}

func (c *cli) removeCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a device from the registry",
		Long: `Remove a device. Without --force the device id must be typed back at the
prompt; non-interactive callers get CONFIRMATION_REQUIRED and must re-run with --force.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			out, err := c.app.Service.Remove(cmd.Context(), id, force)
			if !force && api.Code(err) == api.CodeConfirmationRequired && stdinIsTerminal(c.in) {
				if c.confirm(id) {
					out, err = c.app.Service.Remove(cmd.Context(), id, true)
				}
			}
			return c.finish(out, err, func(w io.Writer) { fmt.Fprintf(w, "removed %s\n", out.ID) })
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "remove without confirmation")
	return cmd
}

// confirm asks for the device id to be typed back.
func (c *cli) confirm(id string) bool {
	fmt.Fprintf(c.errOut, "Type %q to remove it: ", id)
	line, _ := bufio.NewReader(c.in).ReadString('\n')
	return strings.TrimSpace(line) == id
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show recent sync attempts for a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := c.app.Service.History(cmd.Context(), args[0], limit)
			return c.finish(entries, err, func(w io.Writer) { historyTable(w, entries) })
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of attempts to show")
	return cmd
}

func historyTable(w io.Writer, entries []registry.HistoryEntry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ATTEMPT\tSTARTED\tTOOK\tSTATUS\tERROR")
	for _, e := range entries {
		status := string(e.Status)
		if e.Superseded {
			status += " (superseded)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.Attempt, formatTime(&e.StartedAt),
			e.FinishedAt.Sub(e.StartedAt).Round(time.Millisecond), status, e.Error)
	}
	_ = tw.Flush()
}

// parsePairs turns repeated key=value flags into a config map.
func parsePairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: --set expects key=value, got %q", device.ErrInvalidDevice, p)
		}
		out[k] = v
	}
	return out, nil
}
