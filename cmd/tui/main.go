package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"devsync-go/internal/api"
	"devsync-go/internal/app"
	"devsync-go/internal/config"
	"devsync-go/internal/util"
)

const (
	defaultConfigPath = "devsync.yaml"
	callTimeout       = 2 * time.Minute
)

var errRemoteDisabled = errors.New("sync needs a valid remote section in " + defaultConfigPath)

// checkConfig fails on local settings the menu cannot run without and reports whether the
// remote section is usable for the sync options.
func checkConfig(cfg *config.Config) (bool, error) {
	if err := cfg.ValidateLocal(); err != nil {
		return false, err
	}
	return cfg.Validate() == nil, nil
}

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	remoteReady, err := checkConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	if !remoteReady {
		fmt.Println("remote not configured; sync options are disabled")
	}
	log := util.NewConsoleLogger(os.Stderr, "warn")
	a, err := app.New(context.Background(), cfg, log, app.Options{WithRemote: remoteReady})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()
	svc := a.Service

	for {
		fmt.Println("\n=== DevSync Control ===")
		fmt.Println("1) List devices")
		fmt.Println("2) Sync status summary")
		fmt.Println("3) Scan this machine")
		fmt.Println("4) Sync one device")
		fmt.Println("5) Sync all devices")
		fmt.Println("6) Remove a device")
		fmt.Println("7) Sync history for a device")
		fmt.Println("8) Edit sync settings")
		fmt.Println("9) Save config")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		switch choice {
		case "1":
			out, err := svc.List(ctx)
			report(err, func() {
				for i, d := range out.Devices {
					fmt.Printf("%2d) %-22s %-32s %-10s syncs=%d %s\n", i+1, d.ID, d.DisplayName, d.Status, d.SyncCount, d.LastError)
				}
				fmt.Printf("%d device(s)\n", out.Total)
			})
		case "2":
			out, err := svc.Status(ctx)
			report(err, func() {
				fmt.Printf("total %d | online %d | syncing %d | error %d | connected %d | unknown %d\n",
					out.TotalDevices, out.OnlineDevices, out.SyncingDevices, out.ErrorDevices, out.ConnectedDevices, out.UnknownDevices)
			})
		case "3":
			out, err := svc.Discover(ctx)
			report(err, func() {
				fmt.Printf("%d discovered, %d newly connected\n", len(out.Devices), len(out.Connected))
				for _, perr := range out.ProbeErrors {
					fmt.Println("skipped:", perr)
				}
			})
		case "4":
			if !remoteReady {
				fmt.Println(errRemoteDisabled)
				break
			}
			id := prompt(reader, "Device id")
			force := promptBool(reader, "Force (supersede an in-flight sync)", false)
			d, err := svc.Sync(ctx, id, force)
			report(err, func() { fmt.Printf("%s is %s (syncs=%d)\n", d.ID, d.Status, d.SyncCount) })
		case "5":
			if !remoteReady {
				fmt.Println(errRemoteDisabled)
				break
			}
			sum, err := svc.SyncAll(ctx, false)
			report(err, func() {
				fmt.Printf("total %d | successful %d | failed %d\n", sum.Total, sum.Successful, sum.Failed)
				for _, f := range sum.Failures {
					fmt.Printf("  %s: %s\n", f.ID, f.Reason)
				}
			})
		case "6":
			removeDevice(ctx, reader, svc)
		case "7":
			id := prompt(reader, "Device id")
			entries, err := svc.History(ctx, id, 10)
			report(err, func() {
				for _, e := range entries {
					fmt.Printf("#%d %s %s %s\n", e.Attempt, e.FinishedAt.Local().Format(time.DateTime), e.Status, e.Error)
				}
			})
		case "8":
			editSync(reader, cfg)
		case "9":
			if err := config.Save(defaultConfigPath, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved; restart to apply")
			}
		case "0":
			cancel()
			return
		default:
			fmt.Println("unknown option")
		}
		cancel()
	}
}

// removeDevice asks for the id to be typed twice before forcing removal.
func removeDevice(ctx context.Context, reader *bufio.Reader, svc *api.Service) {
	id := prompt(reader, "Device id")
	if _, err := svc.Remove(ctx, id, false); api.Code(err) != api.CodeConfirmationRequired {
		report(err, func() {})
		return
	}
	if prompt(reader, fmt.Sprintf("Type %q again to confirm", id)) != id {
		fmt.Println("not removed")
		return
	}
	_, err := svc.Remove(ctx, id, true)
	report(err, func() { fmt.Println("removed", id) })
}

func editSync(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Sync Settings ---")
	cfg.Sync.Workers = int(promptFloat(reader, "Worker pool size", float64(cfg.Sync.Workers)))
	cfg.Sync.Timeout = promptDuration(reader, "Per-device timeout", cfg.Sync.Timeout)
	cfg.Sync.Interval = promptDuration(reader, "Periodic sync interval (0 disables)", cfg.Sync.Interval)
	cfg.Registry.RecoveryThreshold = promptDuration(reader, "Stale sync recovery threshold", cfg.Registry.RecoveryThreshold)
	if err := cfg.ValidateLocal(); err != nil {
		fmt.Printf("warning: %v\n", err)
	}
}

func report(err error, ok func()) {
	if err != nil {
		fmt.Printf("error [%s]: %v\n", api.Code(err), err)
		return
	}
	ok()
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Printf("%s: ", label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptBool(reader *bufio.Reader, label string, current bool) bool {
	fmt.Printf("%s [%t]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseBool(line)
	if err != nil {
		fmt.Printf("invalid boolean, keeping %t\n", current)
		return current
	}
	return val
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.0f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.0f\n", current)
		return current
	}
	return val
}

func promptDuration(reader *bufio.Reader, label string, current config.Duration) config.Duration {
	fmt.Printf("%s [%s]: ", label, current.Std())
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := time.ParseDuration(line)
	if err != nil {
		fmt.Printf("invalid duration, keeping %s\n", current.Std())
		return current
	}
	return config.Duration(val)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(defaultConfigPath)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}
