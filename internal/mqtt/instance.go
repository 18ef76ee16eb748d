package mqtt

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// KV is the small persistent store the instance ID lives in.
type KV interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
}

// LoadOrCreateInstanceID returns the persisted instance ID, generating
// and saving a UUIDv7 on first use. It survives device renames so HA
// entity history is kept.
func LoadOrCreateInstanceID(ctx context.Context, kv KV) (string, error) {
	data, err := kv.Get(ctx, "mqtt", "instance_id")
	if err != nil {
		return "", fmt.Errorf("load instance ID: %w", err)
	}
	if id := strings.TrimSpace(string(data)); id != "" {
		return id, nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate instance ID: %w", err)
	}
	if err := kv.Set(ctx, "mqtt", "instance_id", []byte(id.String())); err != nil {
		return "", fmt.Errorf("persist instance ID: %w", err)
	}
	return id.String(), nil
}
