package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/0x4133/nan/pkg/memory"
)

func exactArgs(fs *flag.FlagSet, n int) ([]string, error) {
	if fs.NArg() != n {
		return nil, usagef("expected %d argument(s), got %d", n, fs.NArg())
	}
	return fs.Args(), nil
}

// joinedTail returns the first argument and the rest joined by spaces, so
// unquoted text works.
func joinedTail(fs *flag.FlagSet) (string, string, error) {
	if fs.NArg() < 2 {
		return "", "", usagef("expected at least 2 arguments, got %d", fs.NArg())
	}
	return fs.Arg(0), strings.Join(fs.Args()[1:], " "), nil
}

func cmdSpawn(ctx context.Context, a *App, b Backend, fs *flag.FlagSet) error {
	if fs.NArg() > 1 {
		return usagef("expected at most 1 argument, got %d", fs.NArg())
	}
	id, err := b.Spawn(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Stdout, "Spawned agent %s\n", id)
	return nil
}

func cmdAdd(ctx context.Context, a *App, b Backend, fs *flag.FlagSet) error {
	agentID, text, err := joinedTail(fs)
	if err != nil {
		return err
	}
	if err := b.Add(ctx, agentID, text); err != nil {
		return err
	}
	fmt.Fprintf(a.Stdout, "Added memory to agent %s\n", agentID)
	return nil
}

func cmdQuery(ctx context.Context, a *App, b Backend, fs *flag.FlagSet) error {
	args, err := exactArgs(fs, 1)
	if err != nil {
		return err
	}
	items, err := b.Query(ctx, args[0])
	if err != nil {
		return err
	}
	for _, item := range items {
		fmt.Fprintln(a.Stdout, item)
	}
	return nil
}

func cmdClear(ctx context.Context, a *App, b Backend, fs *flag.FlagSet) error {
	args, err := exactArgs(fs, 1)
	if err != nil {
		return err
	}
	if err := b.Clear(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.Stdout, "Cleared memory for agent %s\n", args[0])
	return nil
}

func cmdGenerate(ctx context.Context, a *App, b Backend, fs *flag.FlagSet) error {
	agentID, prompt, err := joinedTail(fs)
	if err != nil {
		return err
	}
	text, err := b.Generate(ctx, agentID, prompt)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Stdout, text)
	return nil
}

func cmdDetach(ctx context.Context, a *App, b Backend, fs *flag.FlagSet) error {
	args, err := exactArgs(fs, 1)
	if err != nil {
		return err
	}
	id, err := b.Detach(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Stdout, "Detached memory from agent %s -> %s\n", args[0], id)
	return nil
}

func attachFlags(fs *flag.FlagSet) {
	fs.String("mode", "replace", "What to do with existing memory: replace, append or require-empty")
}

func cmdAttach(ctx context.Context, a *App, b Backend, fs *flag.FlagSet) error {
	args, err := exactArgs(fs, 2)
	if err != nil {
		return err
	}
	mode, err := memory.ParseAttachMode(fs.Lookup("mode").Value.String())
	if err != nil {
		return usagef("%v", err)
	}
	ok, err := b.Attach(ctx, args[0], args[1], mode)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("memory ID %s not found: %w", args[1], memory.ErrBundleNotFound)
	}
	fmt.Fprintf(a.Stdout, "Attached memory %s to agent %s\n", args[1], args[0])
	return nil
}

func cmdListAgents(ctx context.Context, a *App, b Backend, fs *flag.FlagSet) error {
	if _, err := exactArgs(fs, 0); err != nil {
		return err
	}
	ids, err := b.ListAgents(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(a.Stdout, id)
	}
	return nil
}

func cmdListPool(ctx context.Context, a *App, b Backend, fs *flag.FlagSet) error {
	if _, err := exactArgs(fs, 0); err != nil {
		return err
	}
	ids, err := b.ListPool(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(a.Stdout, id)
	}
	return nil
}

func cmdShow(ctx context.Context, a *App, b Backend, fs *flag.FlagSet) error {
	args, err := exactArgs(fs, 1)
	if err != nil {
		return err
	}
	items, found, err := b.Show(ctx, args[0])
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("memory ID %s not found: %w", args[0], memory.ErrBundleNotFound)
	}
	for _, item := range items {
		fmt.Fprintln(a.Stdout, item)
	}
	return nil
}

func cmdDiscard(ctx context.Context, a *App, b Backend, fs *flag.FlagSet) error {
	args, err := exactArgs(fs, 1)
	if err != nil {
		return err
	}
	ok, err := b.Discard(ctx, args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("memory ID %s not found: %w", args[0], memory.ErrBundleNotFound)
	}
	fmt.Fprintf(a.Stdout, "Discarded memory %s\n", args[0])
	return nil
}

func cmdVerify(ctx context.Context, a *App, b Backend, fs *flag.FlagSet) error {
	if _, err := exactArgs(fs, 0); err != nil {
		return err
	}
	report, err := b.Verify(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Stdout, "Indexed bundles: %d\n", report.Indexed)
	for _, id := range report.Orphaned {
		fmt.Fprintf(a.Stdout, "orphaned index entry: %s\n", id)
	}
	for _, id := range report.Unindexed {
		fmt.Fprintf(a.Stdout, "unindexed bundle: %s\n", id)
	}
	if !report.Consistent() {
		return fmt.Errorf("%w: %d orphaned, %d unindexed",
			memory.ErrConsistencyViolation, len(report.Orphaned), len(report.Unindexed))
	}
	fmt.Fprintln(a.Stdout, "Pool is consistent")
	return nil
}

func cmdSave(ctx context.Context, a *App, b Backend, fs *flag.FlagSet) error {
	args, err := exactArgs(fs, 2)
	if err != nil {
		return err
	}
	if err := b.Save(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(a.Stdout, "Saved memory of agent %s to %s\n", args[0], args[1])
	return nil
}

func cmdLoad(ctx context.Context, a *App, b Backend, fs *flag.FlagSet) error {
	args, err := exactArgs(fs, 2)
	if err != nil {
		return err
	}
	n, err := b.Load(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Stdout, "Loaded %d item(s) into agent %s\n", n, args[0])
	return nil
}

func cmdVersion(_ context.Context, a *App, _ Backend, fs *flag.FlagSet) error {
	if _, err := exactArgs(fs, 0); err != nil {
		return err
	}
	fmt.Fprintf(a.Stdout, "nan %s\n", a.Version)
	return nil
}
