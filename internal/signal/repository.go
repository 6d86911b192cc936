package signal

import (
	"context"
	"time"

	"github.com/clinsight/platform/internal/shared/types"
)

// UpsertResult summarizes one ingestion batch
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// Repository is the read side over ingested operational facts plus the
// idempotent ingestion boundary. Implementations must guarantee that
// upserting the same batch twice leaves identical state.
type Repository interface {
	// UpsertRecords ingests a batch of extract rows, upserting by natural
	// key and bumping the data version of every touched entity.
	UpsertRecords(ctx context.Context, records []Record) (UpsertResult, error)

	// Snapshot derives the current signal snapshot for an entity. Site-level
	// snapshots aggregate all patient records at the site.
	Snapshot(ctx context.Context, ref types.EntityRef, asOf time.Time) (*Snapshot, error)

	// DataVersion returns the entity's monotonic data version (0 if unseen)
	DataVersion(ctx context.Context, ref types.EntityRef) (int64, error)

	// ActiveEntities lists all site-level entities with any records, the
	// population one evaluation tick runs over.
	ActiveEntities(ctx context.Context) ([]types.EntityRef, error)
}
