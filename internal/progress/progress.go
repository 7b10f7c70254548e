// Package progress defines the ProgressSink capability consumed by a
// CLI or UI front-end, and a thread-safe aggregator implementation
// workers can share without each needing its own locking.
package progress

import "sync"

// FileResult is reported once per file when it finishes, successfully or
// not.
type FileResult struct {
	Path    string
	Success bool
	Err     error
}

// EntryReport summarizes one completed BackupEntry/RestoreEntry run.
type EntryReport struct {
	FileCount     int
	BytesLogical  int64
	BytesStored   int64
	FailureCount  int
	Status        string
}

// Sink is the callback capability implementers (CLI, UI, or tests) supply.
// Callbacks are invoked concurrently from worker goroutines; implementers
// MUST be thread-safe.
type Sink interface {
	OnFileStart(path string)
	OnFileProgress(path string, bytesDone int64)
	OnFileEnd(result FileResult)
	OnEntryEnd(report EntryReport)
}

// NopSink implements Sink with no-ops, for callers that do not need
// progress reporting.
type NopSink struct{}

func (NopSink) OnFileStart(string)                 {}
func (NopSink) OnFileProgress(string, int64)        {}
func (NopSink) OnFileEnd(FileResult)                {}
func (NopSink) OnEntryEnd(EntryReport)              {}

// Aggregator is a thread-safe Sink that also accumulates totals, useful
// both as a default sink and as a building block for richer ones.
type Aggregator struct {
	mu           sync.Mutex
	filesStarted int
	filesDone    int
	failures     []FileResult
	bytesDone    int64
	inner        Sink
}

// NewAggregator wraps inner (nil means NopSink) with totals tracking.
func NewAggregator(inner Sink) *Aggregator {
	if inner == nil {
		inner = NopSink{}
	}
	return &Aggregator{inner: inner}
}

func (a *Aggregator) OnFileStart(path string) {
	a.mu.Lock()
	a.filesStarted++
	a.mu.Unlock()
	a.inner.OnFileStart(path)
}

func (a *Aggregator) OnFileProgress(path string, bytesDone int64) {
	a.mu.Lock()
	a.bytesDone += bytesDone
	a.mu.Unlock()
	a.inner.OnFileProgress(path, bytesDone)
}

func (a *Aggregator) OnFileEnd(result FileResult) {
	a.mu.Lock()
	a.filesDone++
	if !result.Success {
		a.failures = append(a.failures, result)
	}
	a.mu.Unlock()
	a.inner.OnFileEnd(result)
}

func (a *Aggregator) OnEntryEnd(report EntryReport) {
	a.inner.OnEntryEnd(report)
}

// Snapshot returns the current totals without racing concurrent updates.
func (a *Aggregator) Snapshot() (filesStarted, filesDone int, bytesDone int64, failures []FileResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	failuresCopy := make([]FileResult, len(a.failures))
	copy(failuresCopy, a.failures)
	return a.filesStarted, a.filesDone, a.bytesDone, failuresCopy
}
