package topic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/kotori/internal/dialog"
)

const archiveCollection = "topic_archive"

// VectorStore is the slice of the store worker the archiver needs.
type VectorStore interface {
	UpsertVector(collection, id string, vector []float32, metadata map[string]string, content string) error
}

// Embedder is the slice of the model router the archiver needs.
type Embedder interface {
	RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error)
}

// Archiver preserves entries that age or fall off the stack as vectors, so
// long-gone topics stay searchable even though the resolver only reads the
// live stack. Archiving is best effort: failures are logged and never block a
// session transition.
type Archiver struct {
	vectors        VectorStore
	embedder       Embedder
	embeddingModel string
}

func NewArchiver(vectors VectorStore, embedder Embedder, embeddingModel string) *Archiver {
	return &Archiver{vectors: vectors, embedder: embedder, embeddingModel: embeddingModel}
}

// Archive stores evicted entries for userID. A nil archiver or missing
// embedder is a no-op.
func (a *Archiver) Archive(ctx context.Context, userID string, evicted []dialog.TopicEntry) {
	if a == nil || a.vectors == nil || a.embedder == nil || len(evicted) == 0 {
		return
	}

	for _, entry := range evicted {
		vector, err := a.embedder.RouteEmbedding(ctx, a.embeddingModel, entry.Label)
		if err != nil {
			slog.Warn("Topic archive embedding failed", "user", userID, "entity", entry.EntityID, "error", err)
			continue
		}

		id := fmt.Sprintf("%s/%s", userID, entry.EntityID)
		metadata := map[string]string{
			"user_id":     userID,
			"entity_id":   entry.EntityID,
			"kind":        string(entry.Kind),
			"inserted_at": entry.InsertedAt.Format(time.RFC3339),
		}
		if err := a.vectors.UpsertVector(archiveCollection, id, vector, metadata, entry.Label); err != nil {
			slog.Warn("Topic archive write failed", "user", userID, "entity", entry.EntityID, "error", err)
		}
	}
}
