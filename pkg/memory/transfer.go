package memory

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// maxLineSize caps a single imported line.
const maxLineSize = 1 << 20

// SaveMemory writes the log to w, one item per line. Items that contain a
// newline will not load back as a single item.
func (a *Agent) SaveMemory(ctx context.Context, w io.Writer) error {
	items, err := a.QueryMemory(ctx)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	for _, item := range items {
		if _, err := bw.WriteString(item + "\n"); err != nil {
			return opError("agent.save", "agent", a.id, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return opError("agent.save", "agent", a.id, err)
	}
	return nil
}

// LoadMemory replaces the log with the lines read from r. Each line is
// trimmed of surrounding whitespace; blank lines become empty items. The
// input is read in full before the log is touched.
func (a *Agent) LoadMemory(ctx context.Context, r io.Reader) (n int, err error) {
	ctx, done := startOp(ctx, "agent.load", attribute.String("agent.id", a.id))
	defer done(&err)

	items, err := readLines(r)
	if err != nil {
		return 0, opError("agent.load", "agent", a.id, err)
	}

	err = a.withLock(ctx, "agent_load", func() error {
		previous, err := a.store.LRange(ctx, a.key(), 0, -1)
		if err != nil {
			return opError("agent.load", "agent", a.id, err)
		}
		if err := a.replaceLog(ctx, items); err != nil {
			return a.rollbackLoad(ctx, previous, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	a.logger.Info("Memory loaded", map[string]interface{}{
		"operation": "agent_load",
		"agent_id":  a.id,
		"items":     len(items),
	})
	return len(items), nil
}

func (a *Agent) rollbackLoad(ctx context.Context, previous []string, cause error) error {
	cctx, cancel := compensationContext(ctx)
	defer cancel()

	if err := a.replaceLog(cctx, previous); err != nil {
		a.logger.Error("Failed to restore memory after load failure", map[string]interface{}{
			"operation": "agent_load",
			"agent_id":  a.id,
			"error":     err,
			"cause":     cause,
		})
		return opError("agent.load", "agent", a.id, errors.Join(cause, fmt.Errorf("restore previous log: %w", err)))
	}
	return opError("agent.load", "agent", a.id, cause)
}

func readLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	items := []string{}
	for scanner.Scan() {
		items = append(items, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// SaveMemoryFile writes the log to path, creating or truncating it.
func (a *Agent) SaveMemoryFile(ctx context.Context, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return opError("agent.save", "agent", a.id, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = opError("agent.save", "agent", a.id, cerr)
		}
	}()
	return a.SaveMemory(ctx, f)
}

// LoadMemoryFile replaces the log with the lines of the file at path.
func (a *Agent) LoadMemoryFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, opError("agent.load", "agent", a.id, err)
	}
	defer f.Close()
	return a.LoadMemory(ctx, f)
}
