package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/actual-software/re-bridge/internal/analysis"
	"github.com/actual-software/re-bridge/internal/eventbus"
	"github.com/actual-software/re-bridge/internal/resolver"
)

// ErrOffline is returned by commands that need a configured bridge.
var ErrOffline = errors.New("no bridge configured")

// ErrNoResult is returned when no transport produced a result.
var ErrNoResult = errors.New("no result from any transport")

// sourceLive labels a roster refetched straight from the bridge.
const sourceLive = "live"

type serversOutput struct {
	Source  string            `json:"source"  yaml:"source"`
	Servers []resolver.Target `json:"servers" yaml:"servers"`
}

func serversCmd() *cobra.Command {
	var live bool

	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List known analysis backends",
		Args:  cobra.NoArgs,
		RunE: withApplication(func(app *application, _ []string) error {
			targets, source, err := listServers(app, live)
			if err != nil {
				return err
			}

			records := lo.Map(targets, func(t resolver.Target, _ int) []interface{} {
				return []interface{}{
					t.LogicalID, t.DisplayName, t.Architecture,
					fmt.Sprintf("0x%x", t.BaseAddress), t.DirectBaseURL,
				}
			})

			return app.renderer.Render(
				serversOutput{Source: source, Servers: targets},
				[]interface{}{"ID", "Name", "Arch", "Base", "Direct URL"},
				records,
			)
		}),
	}

	cmd.Flags().BoolVar(&live, "live", false, "Refetch the roster from the bridge, without static fallback")

	return cmd
}

// listServers returns the roster, either through the full fallback chain or
// refetched from the bridge alone.
func listServers(app *application, live bool) ([]resolver.Target, string, error) {
	if !live {
		targets, source := app.client.ListBinaries(app.ctx)

		return targets, source, nil
	}

	targets, err := app.client.Resolver().Refresh(app.ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to refresh roster: %w", err)
	}

	return targets, sourceLive, nil
}

type functionsOutput struct {
	Binary    string   `json:"binary"    yaml:"binary"`
	Source    string   `json:"source"    yaml:"source"`
	Functions []string `json:"functions" yaml:"functions"`
}

func functionsCmd() *cobra.Command {
	var search string

	cmd := &cobra.Command{
		Use:   "functions <binary-id>",
		Short: "List functions of a backend",
		Args:  cobra.ExactArgs(1),
		RunE: withApplication(func(app *application, args []string) error {
			names, source := app.client.ListFunctions(app.ctx, args[0], search)

			records := lo.Map(names, func(name string, _ int) []interface{} {
				return []interface{}{name}
			})

			return app.renderer.Render(
				functionsOutput{Binary: args[0], Source: source, Functions: names},
				[]interface{}{"Function"},
				records,
			)
		}),
	}

	cmd.Flags().StringVar(&search, "search", "", "Case-insensitive substring filter")

	return cmd
}

type decompileOutput struct {
	Binary   string `json:"binary"   yaml:"binary"`
	Function string `json:"function" yaml:"function"`
	Code     string `json:"code"     yaml:"code"`
}

func decompileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decompile <binary-id> <function>",
		Short: "Decompile a function",
		Args:  cobra.ExactArgs(2),
		RunE: withApplication(func(app *application, args []string) error {
			code, ok := app.client.DecompileFunction(app.ctx, args[0], args[1])
			if !ok {
				return fmt.Errorf("%w: decompile %s in %s", ErrNoResult, args[1], args[0])
			}

			return app.renderer.RenderText(
				decompileOutput{Binary: args[0], Function: args[1], Code: code},
				code,
			)
		}),
	}
}

func offsetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "offsets <binary-id> <function>",
		Short: "List struct offsets dereferenced by a function",
		Args:  cobra.ExactArgs(2),
		RunE: withApplication(func(app *application, args []string) error {
			result, err := analysis.New(app.client, app.logger).AnalyzeStructOffsets(app.ctx, args[0], args[1])
			if err != nil {
				return err
			}

			records := lo.Map(result.Offsets, func(offset string, _ int) []interface{} {
				return []interface{}{offset}
			})

			return app.renderer.Render(result, []interface{}{"Offset"}, records)
		}),
	}
}

func compareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <old-binary-id> <new-binary-id> <function>",
		Short: "Compare one function across two binaries",
		Args:  cobra.ExactArgs(3),
		RunE: withApplication(func(app *application, args []string) error {
			result, err := analysis.New(app.client, app.logger).CompareFunctionVersions(app.ctx, args[0], args[1], args[2])
			if err != nil {
				return err
			}

			return app.renderer.Render(
				result,
				[]interface{}{"Function", "Old", "New", "Changed"},
				[][]interface{}{{result.Function, result.OldBinary, result.NewBinary, result.Changed}},
			)
		}),
	}
}

type eventOutput struct {
	Seq       uint64      `json:"seq"       yaml:"seq"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
	Payload   interface{} `json:"payload"   yaml:"payload"`
}

func eventsCmd() *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Watch the bridge event stream",
		Args:  cobra.NoArgs,
		RunE: withApplication(func(app *application, _ []string) error {
			if app.client.Offline() {
				return ErrOffline
			}

			return watchEvents(app, duration)
		}),
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 runs until interrupted)")

	return cmd
}

func watchEvents(app *application, duration time.Duration) error {
	ctx := app.ctx
	if duration > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	bus := app.client.Events()
	events := make(chan eventbus.Event, bus.Capacity())

	unsubscribe, err := bus.Subscribe(func(e eventbus.Event) {
		select {
		case events <- e:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	bus.EnsureRunning()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			if err := app.renderer.RenderJSON(eventOutput{Seq: e.Seq, Timestamp: e.Timestamp, Payload: e.Payload}); err != nil {
				return err
			}
		}
	}
}
