package job

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
)

// executor runs one task with its raw JSON payload.
type executor func(ctx context.Context, payload json.RawMessage) error

// registry maps task names to executors. It is filled by options before the
// manager is created and only read afterwards.
type registry map[string]executor

func (r registry) get(name string) (executor, bool) {
	exec, ok := r[name]
	return exec, ok && exec != nil
}

// names returns the registered task names, sorted.
func (r registry) names() []string {
	return slices.Sorted(maps.Keys(r))
}

// typed decodes the payload into P before calling handle. An empty payload leaves P zero.
func typed[P any](handle func(context.Context, P) error) executor {
	return func(ctx context.Context, raw json.RawMessage) error {
		var payload P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &payload); err != nil {
				return errors.Join(ErrInvalidPayload, err)
			}
		}
		return handle(ctx, payload)
	}
}

// untyped ignores the payload, as scheduled tasks carry none.
func untyped(handle func(context.Context) error) executor {
	return func(ctx context.Context, _ json.RawMessage) error {
		return handle(ctx)
	}
}
