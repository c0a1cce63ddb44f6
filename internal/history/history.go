// Package history consumes the server's cursor-paginated message history.
// The reconciler is its only caller: pages flow in on demand ("load
// older") and deletes are confirmed here before any local state changes.
package history

import (
	"context"

	"github.com/chatsync/chatsync/internal/chat"
)

// Fetcher is the contract the reconciler consumes. An empty cursor means
// "most recent page"; an empty NextCursor in the returned page means the
// start of the room's history has been reached. FetchPage must be
// retry-safe from the caller's perspective: the reconciler deduplicates by
// message id regardless.
type Fetcher interface {
	FetchPage(ctx context.Context, roomID, cursor string) (chat.Page, error)
	DeleteMessage(ctx context.Context, roomID, messageID string) error
}
