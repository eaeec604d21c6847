package identity

import (
	"context"
	"fmt"

	"github.com/benno1237/bennos-cogs/internal/storage"
)

const bindingKey = "uuid"

// StoreBindings keeps bindings in the user namespace of a store.
type StoreBindings struct {
	Store storage.Store
}

func (b StoreBindings) UUIDFor(ctx context.Context, userID string) (string, bool, error) {
	u, err := storage.Get(ctx, b.Store, storage.User(userID), "", bindingKey)
	if err != nil {
		return "", false, err
	}
	return u, u != "", nil
}

func (b StoreBindings) Bind(ctx context.Context, userID, rawUUID string) error {
	u, ok := NormalizeUUID(rawUUID)
	if !ok {
		return fmt.Errorf("invalid uuid %q", rawUUID)
	}
	return storage.Set(ctx, b.Store, storage.User(userID), u, bindingKey)
}

func (b StoreBindings) Unbind(ctx context.Context, userID string) error {
	return b.Store.Delete(ctx, storage.User(userID), bindingKey)
}
