package storage

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jwebster45206/vtt-forge/pkg/errs"
)

// resolveTimeout bounds one shared container round trip. The shared call
// does not inherit any caller's cancellation.
const resolveTimeout = 30 * time.Second

// ContainerIndex resolves containers by (name, kind, parent), creating
// them on a miss. Concurrent resolves of the same key inside one process
// share a single store round trip; across processes the store's
// create-if-absent CreateContainer picks the winner. A caller that gives up
// does not fail the others waiting on the same key.
type ContainerIndex struct {
	store  Store
	logger *slog.Logger
	group  singleflight.Group
}

func NewContainerIndex(store Store, logger *slog.Logger) *ContainerIndex {
	return &ContainerIndex{store: store, logger: logger}
}

// FindOrCreate returns the container for the key, creating it if absent.
// Failures are returned as *errs.StoreError.
func (ix *ContainerIndex) FindOrCreate(ctx context.Context, name, kind, parentID string) (*Container, error) {
	key := kind + "\x00" + parentID + "\x00" + name
	ch := ix.group.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()

		c, err := ix.store.FindContainer(rctx, name, kind, parentID)
		if err != nil {
			return nil, &errs.StoreError{Op: OpFindContainer, Err: err}
		}
		if c != nil {
			return c, nil
		}
		c, err = ix.store.CreateContainer(rctx, name, kind, parentID)
		if err != nil {
			return nil, &errs.StoreError{Op: OpCreateContainer, Err: err}
		}
		ix.logger.Info("container created", "container", name, "kind", kind, "parent_id", parentID, "container_id", c.ID)
		return c, nil
	})

	select {
	case <-ctx.Done():
		return nil, &errs.StoreError{Op: OpFindContainer, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			ix.logger.Debug("container resolve shared", "container", name)
		}
		c := *res.Val.(*Container)
		return &c, nil
	}
}

// FindOrCreatePath resolves a chain of nested containers, outermost first,
// and returns every container in the chain.
func (ix *ContainerIndex) FindOrCreatePath(ctx context.Context, kind string, names ...string) ([]Container, error) {
	chain := make([]Container, 0, len(names))
	parentID := ""
	for _, name := range names {
		c, err := ix.FindOrCreate(ctx, name, kind, parentID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *c)
		parentID = c.ID
	}
	return chain, nil
}
