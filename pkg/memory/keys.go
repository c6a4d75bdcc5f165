package memory

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/0x4133/nan/pkg/telemetry"
)

// Storage layout.
const (
	poolIndexKey    = "pool_ids"
	bundleKeyPrefix = "pool:"
	agentsKey       = "agents"
	agentSeqKey     = "agents:seq"
)

// compensationTimeout bounds rollback writes, which run even after the
// caller's context is done.
const compensationTimeout = 5 * time.Second

// claimTTL bounds how long a crashed remover's claim hides a half-removed
// bundle from Remove.
const claimTTL = 30 * time.Second

func bundleKey(id string) string { return bundleKeyPrefix + id }

func agentMemKey(id string) string { return "agent:" + id + ":mem" }

func agentLockKey(id string) string { return "lock:agent:" + id }

func claimKey(id string) string { return "claim:pool:" + id }

func encodeItems(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeItems(blob string) ([]string, error) {
	var items []string
	if err := json.Unmarshal([]byte(blob), &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []string{}
	}
	return items, nil
}

// compensationContext detaches from ctx cancellation so a rollback still
// runs when the original call timed out.
func compensationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
}

// startOp opens a span and returns a finisher that records the outcome.
func startOp(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := telemetry.StartSpan(ctx, "memory."+op, attrs...)
	start := time.Now()
	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		telemetry.RecordSpanError(span, err)
		telemetry.RecordOperation(ctx, op, start, err)
		span.End()
	}
}
