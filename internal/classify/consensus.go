package classify

import (
	"context"
	"crypto/rand"
	"math/big"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scholarwatch/harvester/internal/harvest"
	"github.com/scholarwatch/harvester/internal/metrics"
)

// FailedReason marks items that lost a vote to a call failure. They are
// classified non-relevant rather than dropped so every input item reaches a
// terminal state.
const FailedReason = "classification failed"

// Config controls the consensus engine.
type Config struct {
	BatchSize    int
	Workers      int
	PassDelayMin time.Duration
	PassDelayMax time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Workers <= 0 {
		c.Workers = 20
	}
	if c.PassDelayMin <= 0 {
		c.PassDelayMin = 1 * time.Second
	}
	if c.PassDelayMax < c.PassDelayMin {
		c.PassDelayMax = c.PassDelayMin + 2*time.Second
	}
	return c
}

// Consensus runs two independent batched classification passes over the same
// input and arbitrates disagreement with a third single-item call.
type Consensus struct {
	classifier Classifier
	cfg        Config
	logger     *zap.Logger

	// sleep is swappable in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewConsensus builds the engine.
func NewConsensus(classifier Classifier, cfg Config, logger *zap.Logger) *Consensus {
	return &Consensus{
		classifier: classifier,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// Classify labels every candidate item. The output always contains exactly
// one ClassifiedItem per input item; relevant items are sorted ascending by
// published date so earlier items are durably stored first under
// partial-failure resumption. Output order otherwise does not follow input
// order.
func (c *Consensus) Classify(ctx context.Context, items []harvest.CandidateItem) []harvest.ClassifiedItem {
	if len(items) == 0 {
		return nil
	}

	batch := make([]BatchItem, len(items))
	for i, item := range items {
		batch[i] = BatchItem{
			ID:       item.IdentityKey(),
			Title:    item.Title,
			Abstract: item.Abstract,
		}
	}

	passA := c.runPass(ctx, batch)

	// A short randomized gap between passes keeps the two from correlating
	// against the provider's rate limiter.
	if err := c.sleep(ctx, c.passDelay()); err != nil {
		c.logger.Warn("inter-pass delay interrupted", zap.Error(err))
	}

	passB := c.runPass(ctx, batch)

	out := make([]harvest.ClassifiedItem, 0, len(items))
	var relevant, failed int
	for i, item := range items {
		verdict := c.arbitrate(ctx, batch[i], passA, passB)
		if verdict.Reason == FailedReason {
			failed++
		}
		if verdict.Relevant {
			relevant++
		}
		out = append(out, harvest.ClassifiedItem{
			CandidateItem: item,
			Relevant:      verdict.Relevant,
			Reason:        verdict.Reason,
		})
	}
	c.logger.Info("classification pass complete",
		zap.Int("items", len(items)),
		zap.Int("relevant", relevant),
		zap.Int("failed", failed),
	)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedDate.Before(out[j].PublishedDate)
	})
	return out
}

type verdict struct {
	Relevant bool
	Reason   string
}

func (c *Consensus) arbitrate(ctx context.Context, item BatchItem, passA, passB map[string]Vote) verdict {
	a, okA := passA[item.ID]
	b, okB := passB[item.ID]

	if !okA || !okB {
		// Conservative bias: a missing vote means the call failed for this
		// item, and false negatives are cheaper than an unbounded
		// relevant-but-unclassified backlog.
		metrics.ClassificationFailures.Inc()
		c.logger.Warn("vote missing, classifying as non-relevant",
			zap.String("id", item.ID),
			zap.Bool("pass_a", okA),
			zap.Bool("pass_b", okB),
		)
		return verdict{Relevant: false, Reason: FailedReason}
	}

	if a.Relevant == b.Relevant {
		return verdict{Relevant: a.Relevant, Reason: a.Explanation}
	}

	metrics.Adjudications.Inc()
	third, err := c.classifier.ClassifyOne(ctx, item)
	if err != nil {
		metrics.ClassificationFailures.Inc()
		c.logger.Warn("adjudication call failed", zap.String("id", item.ID), zap.Error(err))
		return verdict{Relevant: false, Reason: FailedReason}
	}
	return verdict{Relevant: third.Relevant, Reason: third.Explanation}
}

// runPass submits all batches concurrently on a bounded worker pool and
// collects the votes that came back. Failed batches contribute no votes.
func (c *Consensus) runPass(ctx context.Context, items []BatchItem) map[string]Vote {
	batches := chunk(items, c.cfg.BatchSize)
	votes := make(map[string]Vote, len(items))

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, c.cfg.Workers)
	)
	for _, b := range batches {
		wg.Add(1)
		go func(batch []BatchItem) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			result, err := c.classifier.ClassifyBatch(ctx, batch)
			if err != nil {
				c.logger.Warn("batch classification failed",
					zap.Int("batch_size", len(batch)),
					zap.Error(err),
				)
				return
			}
			mu.Lock()
			for _, vote := range result {
				votes[vote.ID] = vote
			}
			mu.Unlock()
		}(b)
	}
	wg.Wait()
	return votes
}

func (c *Consensus) passDelay() time.Duration {
	span := c.cfg.PassDelayMax - c.cfg.PassDelayMin
	if span <= 0 {
		return c.cfg.PassDelayMin
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)))
	if err != nil {
		return c.cfg.PassDelayMin
	}
	return c.cfg.PassDelayMin + time.Duration(n.Int64())
}

func chunk(items []BatchItem, size int) [][]BatchItem {
	var batches [][]BatchItem
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
