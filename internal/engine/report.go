package engine

import (
	"time"

	"go.uber.org/zap"
)

// SourceReport is the outcome of harvesting one source.
type SourceReport struct {
	Source     string
	Window     string
	Candidates int
	New        int
	Relevant   int
	Saved      int
	Archived   int
	SaveErrors int
	Err        string
	Duration   time.Duration
}

// RunReport aggregates per-source outcomes for one run.
type RunReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Sources    []SourceReport
}

// NewRunReport starts a report at the given time.
func NewRunReport(started time.Time) *RunReport {
	return &RunReport{StartedAt: started}
}

// Add appends one source outcome.
func (r *RunReport) Add(sr SourceReport) {
	r.Sources = append(r.Sources, sr)
}

// Finish stamps the end time.
func (r *RunReport) Finish(at time.Time) {
	r.FinishedAt = at
}

// Failed returns the names of sources that ended in error.
func (r *RunReport) Failed() []string {
	var failed []string
	for _, sr := range r.Sources {
		if sr.Err != "" {
			failed = append(failed, sr.Source)
		}
	}
	return failed
}

// Totals sums the per-source counters.
func (r *RunReport) Totals() (candidates, saved, archived int) {
	for _, sr := range r.Sources {
		candidates += sr.Candidates
		saved += sr.Saved
		archived += sr.Archived
	}
	return candidates, saved, archived
}

// Log writes the run summary, one line per source plus a totals line.
func (r *RunReport) Log(logger *zap.Logger) {
	for _, sr := range r.Sources {
		fields := []zap.Field{
			zap.String("source", sr.Source),
			zap.String("window", sr.Window),
			zap.Int("candidates", sr.Candidates),
			zap.Int("new", sr.New),
			zap.Int("relevant", sr.Relevant),
			zap.Int("saved", sr.Saved),
			zap.Int("archived", sr.Archived),
			zap.Duration("took", sr.Duration),
		}
		if sr.Err != "" {
			fields = append(fields, zap.String("error", sr.Err))
			logger.Warn("source summary", fields...)
			continue
		}
		logger.Info("source summary", fields...)
	}

	candidates, saved, archived := r.Totals()
	logger.Info("run summary",
		zap.Int("sources", len(r.Sources)),
		zap.Int("failed", len(r.Failed())),
		zap.Int("candidates", candidates),
		zap.Int("saved", saved),
		zap.Int("archived", archived),
		zap.Duration("took", r.FinishedAt.Sub(r.StartedAt)),
	)
}
