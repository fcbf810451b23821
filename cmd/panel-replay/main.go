// Command panel-replay feeds a recorded trace through the panel logic and
// prints the events it produces. It needs the config the trace was recorded
// with; debounce and gesture timings may be changed to see their effect.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/sweeney/panel-controls/internal/config"
	"github.com/sweeney/panel-controls/internal/panel"
	"github.com/sweeney/panel-controls/internal/status"
	"github.com/sweeney/panel-controls/internal/trace"
)

func main() {
	configPath := flag.String("config", "/etc/panel-controls/config.yaml", "YAML config file")
	tracePath := flag.String("trace", "", "Trace file written by panel-controls -record")
	asJSON := flag.Bool("json", false, "Print one JSON object per event")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *tracePath == "" {
		fmt.Fprintln(os.Stderr, "error: -trace is required")
		os.Exit(2)
	}
	if err := run(os.Stdout, logger, *configPath, *tracePath, *asJSON); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(w io.Writer, logger *slog.Logger, configPath, tracePath string, asJSON bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	tr, err := trace.Load(tracePath)
	if err != nil {
		return fmt.Errorf("load trace: %w", err)
	}
	if len(tr.Ticks) == 0 {
		return errors.New("trace has no ticks")
	}

	p, err := panel.New(&cfg, tr.Opener(), tr.Ticks[0])
	if err != nil {
		return fmt.Errorf("init panel: %w", err)
	}
	defer p.Close()

	events := tr.Replay(p, func(now time.Time, err error) {
		logger.Warn("poll error", "at", now.UTC().Format(time.RFC3339Nano), "err", err)
	})

	if err := printEvents(w, events, asJSON); err != nil {
		return err
	}

	span := tr.Ticks[len(tr.Ticks)-1].Sub(tr.Ticks[0])
	logger.Info("replay finished", "ticks", len(tr.Ticks), "span", span, "events", len(events))
	printCounts(w, p.EventCountsSnapshot())
	return nil
}

func printEvents(w io.Writer, events []panel.Event, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, e := range events {
			if err := enc.Encode(status.NewEventJSON(e)); err != nil {
				return err
			}
		}
		return nil
	}
	for _, e := range events {
		fmt.Fprintf(w, "%s %-8s %-12s %s\n", e.Timestamp.UTC().Format("15:04:05.000"), e.Kind, e.Control, e.Type)
	}
	return nil
}

// printCounts writes a per-control summary, sorted by name.
func printCounts(w io.Writer, counts panel.EventCounts) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		types := make([]string, 0, len(counts[name]))
		for typ := range counts[name] {
			types = append(types, typ)
		}
		sort.Strings(types)
		fmt.Fprintf(w, "# %s:", name)
		for _, typ := range types {
			fmt.Fprintf(w, " %s=%d", typ, counts[name][typ])
		}
		fmt.Fprintln(w)
	}
}
