// batch.go - Bounded-concurrency batch orchestration

package extractor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/bosocmputer/identity_ocr_gemini/internal/common"
	"github.com/bosocmputer/identity_ocr_gemini/internal/identity"
	"github.com/bosocmputer/identity_ocr_gemini/internal/processor"
	"golang.org/x/sync/errgroup"
)

// DefaultGroupSize is how many images run concurrently inside one group.
const DefaultGroupSize = 3

// Batch status values
const (
	BatchCompleted = "completed"
	BatchPartial   = "partial"
	BatchFailed    = "failed"
	BatchCancelled = "cancelled"
)

// Progress is reported after every finished item.
type Progress struct {
	Completed   int     `json:"completed"`
	Total       int     `json:"total"`
	Percentage  float64 `json:"percentage"`
	CurrentFile string  `json:"currentFile"`
}

// BatchOptions tunes one ProcessBatch call.
type BatchOptions struct {
	GroupSize     int
	SchemaVersion string
	Provider      string
	// OnProgress is never called concurrently.
	OnProgress func(Progress)
}

// ItemResult is the outcome for the input at Index.
type ItemResult struct {
	Index      int              `json:"index"`
	FileName   string           `json:"fileName"`
	Success    bool             `json:"success"`
	Record     *identity.Record `json:"data,omitempty"`
	Error      string           `json:"error,omitempty"`
	ErrorClass string           `json:"errorClass,omitempty"`
	Duration   time.Duration    `json:"duration"`
}

// BatchSummary aggregates a batch. AverageTime is TotalTime divided by Total.
type BatchSummary struct {
	Total       int           `json:"total"`
	Successful  int           `json:"successful"`
	Failed      int           `json:"failed"`
	TotalTime   time.Duration `json:"totalTime"`
	AverageTime time.Duration `json:"averageTime"`
}

// BatchResult holds one slot per input, in input order.
type BatchResult struct {
	Results []ItemResult `json:"results"`
	Summary BatchSummary `json:"summary"`
	Status  string       `json:"status"`
}

// ProcessBatch extracts every image. Groups run one after another, items inside a group
// run concurrently. A failing item never affects its neighbours. Once ctx is cancelled no
// further group starts; the group in flight still finishes within the item timeout.
func (s *Service) ProcessBatch(ctx context.Context, images []processor.SourceImage, opts BatchOptions) BatchResult {
	total := len(images)
	groupSize := opts.GroupSize
	if groupSize <= 0 {
		groupSize = s.groupSize
	}

	log := s.logger.With("batch_size", total, "group_size", groupSize)
	log.Info("batch.start")
	start := s.now()

	results := make([]ItemResult, total)
	dispatched := make([]bool, total)

	var (
		progressMu sync.Mutex
		completed  int
	)
	report := func(fileName string) {
		progressMu.Lock()
		defer progressMu.Unlock()
		completed++
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{
				Completed:   completed,
				Total:       total,
				Percentage:  percentage(completed, total),
				CurrentFile: fileName,
			})
		}
	}

	cancelled := false
	for groupStart := 0; groupStart < total; groupStart += groupSize {
		if ctx.Err() != nil {
			cancelled = true
			log.Warn("batch.cancelled", "remaining", total-groupStart)
			break
		}
		groupEnd := min(groupStart+groupSize, total)

		var g errgroup.Group
		for i := groupStart; i < groupEnd; i++ {
			dispatched[i] = true
			g.Go(func() error {
				results[i] = s.processItem(ctx, i, images[i], opts)
				report(images[i].FileName)
				return nil
			})
		}
		_ = g.Wait()
		log.Debug("batch.group.done", "group", groupStart/groupSize+1, "completed", groupEnd)
	}

	for i, ok := range dispatched {
		if !ok {
			results[i] = ItemResult{
				Index:      i,
				FileName:   images[i].FileName,
				Error:      context.Cause(ctx).Error(),
				ErrorClass: common.ClassCancelled,
			}
		}
	}

	summary := summarize(results, s.now().Sub(start))
	status := batchStatus(summary, cancelled)
	log.Info("batch.done",
		"status", status,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"total_ms", summary.TotalTime.Milliseconds(),
	)
	return BatchResult{Results: results, Summary: summary, Status: status}
}

// processItem runs one image on a context that survives batch cancellation but not the
// item timeout.
func (s *Service) processItem(ctx context.Context, index int, src processor.SourceImage, opts BatchOptions) ItemResult {
	itemCtx := context.WithoutCancel(ctx)
	if s.itemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(itemCtx, s.itemTimeout)
		defer cancel()
	}

	start := s.now()
	rec, err := s.ExtractRequest(itemCtx, Request{
		Image:         src,
		SchemaVersion: opts.SchemaVersion,
		Provider:      opts.Provider,
	})
	res := ItemResult{Index: index, FileName: src.FileName, Duration: s.now().Sub(start)}
	if err != nil {
		res.Error = s.redactor.Redact(err.Error())
		res.ErrorClass = common.ErrorClass(err)
		return res
	}
	res.Success = true
	res.Record = rec
	return res
}

func summarize(results []ItemResult, elapsed time.Duration) BatchSummary {
	sum := BatchSummary{Total: len(results), TotalTime: elapsed}
	for _, r := range results {
		if r.Success {
			sum.Successful++
		} else {
			sum.Failed++
		}
	}
	if sum.Total > 0 {
		sum.AverageTime = elapsed / time.Duration(sum.Total)
	}
	return sum
}

func batchStatus(sum BatchSummary, cancelled bool) string {
	switch {
	case cancelled:
		return BatchCancelled
	case sum.Failed == 0:
		return BatchCompleted
	case sum.Successful == 0:
		return BatchFailed
	default:
		return BatchPartial
	}
}

func percentage(completed, total int) float64 {
	if total == 0 {
		return 100
	}
	return math.Round(float64(completed)/float64(total)*10000) / 100
}
