package session

import (
	"context"

	"github.com/sells-group/enroll-cli/internal/model"
	"github.com/sells-group/enroll-cli/internal/store"
)

// StoreBackend serves a Store directly from local persistence, for
// processes that own the session database.
type StoreBackend struct {
	Store store.Store
}

func (b StoreBackend) Get(ctx context.Context, id string) (*model.Session, error) {
	return b.Store.GetSession(ctx, id)
}

func (b StoreBackend) Patch(ctx context.Context, id string, patch model.SessionPatch) (*model.Session, error) {
	return b.Store.PatchSession(ctx, id, patch)
}
