package reencrypt

import (
	"context"
	"errors"
	"fmt"

	"github.com/PolarWolf314/sharevault/internal/vault"
)

var errBatchCommitted = errors.New("batch already committed")

// BlobSink receives a complete batch of blobs. Implementations either
// store all of them or none.
type BlobSink interface {
	PutShareKeys(ctx context.Context, blobs []vault.EncryptedKeyBlob) error
}

// Batch is a set of blobs that were all produced successfully.
type Batch struct {
	blobs     []vault.EncryptedKeyBlob
	committed bool
}

// Blobs returns a copy of the blobs in the batch.
func (b *Batch) Blobs() []vault.EncryptedKeyBlob {
	return append([]vault.EncryptedKeyBlob(nil), b.blobs...)
}

func (b *Batch) Len() int {
	return len(b.blobs)
}

// Merge appends the blobs of other, e.g. to send a rotation and its
// vault content update together.
func (b *Batch) Merge(other *Batch) {
	if other == nil {
		return
	}
	b.blobs = append(b.blobs, other.blobs...)
}

// Commit hands the batch to sink in a single call. A batch commits at most once.
func (b *Batch) Commit(ctx context.Context, sink BlobSink) error {
	if b.committed {
		return errBatchCommitted
	}
	if len(b.blobs) == 0 {
		b.committed = true
		return nil
	}
	if err := sink.PutShareKeys(ctx, b.Blobs()); err != nil {
		return fmt.Errorf("failed to commit %d key blob(s): %w", len(b.blobs), err)
	}
	b.committed = true
	return nil
}
