// Package idempotency replays admin mutations (create, send) so a retried
// request returns its original response instead of acting twice.
package idempotency

import "context"

type Caller struct {
	ActorID string
	Key     string
}

type Store interface {
	GetIdempotencyRecord(ctx context.Context, actorID, key, endpoint string) (int, map[string]any, bool, error)
	SaveIdempotencyRecord(ctx context.Context, actorID, key, endpoint string, responseStatus int, responseBody map[string]any) error
}

func Replay(ctx context.Context, st Store, caller Caller, endpoint string) (int, map[string]any, bool, error) {
	if caller.Key == "" {
		return 0, nil, false, nil
	}
	status, body, found, err := st.GetIdempotencyRecord(ctx, caller.ActorID, caller.Key, endpoint)
	if err != nil {
		return 0, nil, false, err
	}
	if !found {
		return 0, nil, false, nil
	}
	return status, body, true, nil
}

func Save(ctx context.Context, st Store, caller Caller, endpoint string, status int, response map[string]any) error {
	if caller.Key == "" {
		return nil
	}
	return st.SaveIdempotencyRecord(ctx, caller.ActorID, caller.Key, endpoint, status, response)
}
