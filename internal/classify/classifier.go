// Package classify turns a best-effort external relevance classifier into a
// repeatable decision via two concurrent batched passes plus adjudication.
package classify

import "context"

// BatchItem is the classification boundary's view of a candidate item.
type BatchItem struct {
	ID       string
	Title    string
	Abstract string
}

// Vote is one relevance judgment for one item.
type Vote struct {
	ID          string
	Relevant    bool
	Explanation string
}

// Classifier is the external classification boundary. ClassifyBatch may
// return partial results; missing IDs are tolerated by the consensus engine.
type Classifier interface {
	ClassifyBatch(ctx context.Context, items []BatchItem) ([]Vote, error)
	ClassifyOne(ctx context.Context, item BatchItem) (Vote, error)
}
