package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BatchOptions tunes one run over all eligible users
type BatchOptions struct {
	BatchSize   int // defaults to the configured batch size
	SkipUsers   int
	ProcessData bool
}

// BatchError records one user's failure inside a batch
type BatchError struct {
	UserID      string `json:"userId"`
	TerraUserID string `json:"terraUserId"`
	Error       string `json:"error"`
}

// BatchSummary aggregates the outcome of a batch run
type BatchSummary struct {
	TotalUsers     int          `json:"totalUsers"`
	ProcessedUsers int          `json:"processedUsers"`
	SuccessCount   int          `json:"successCount"`
	FailureCount   int          `json:"failureCount"`
	Errors         []BatchError `json:"errors"`
}

// FetchDataForAllUsers pages through eligible users. Users of one page start
// index*UserDelay apart and the next page waits for the whole page. A failing
// user is recorded in the summary and never stops the batch; only count or
// list failures abort the run.
func (s *Scheduler) FetchDataForAllUsers(ctx context.Context, opts BatchOptions) (*BatchSummary, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.cfg.BatchSize
	}
	skip := opts.SkipUsers
	if skip < 0 {
		skip = 0
	}

	summary := &BatchSummary{Errors: []BatchError{}}

	total, err := s.cfg.Users.CountEligible(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count eligible users: %w", err)
	}
	summary.TotalUsers = total

	remaining := total - skip
	if remaining <= 0 {
		s.logger.WithField("totalUsers", total).Info("No eligible users to fetch")
		return summary, nil
	}

	pages := (remaining + batchSize - 1) / batchSize
	s.logger.WithFields(map[string]interface{}{
		"totalUsers": total,
		"skip":       skip,
		"batchSize":  batchSize,
		"pages":      pages,
	}).Info("Starting batch fetch")

	for page := 0; page < pages; page++ {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("batch fetch interrupted at page %d: %w", page, err)
		}

		offset := skip + page*batchSize
		users, err := s.cfg.Users.ListEligible(ctx, batchSize, offset)
		if err != nil {
			return summary, fmt.Errorf("failed to list eligible users at offset %d: %w", offset, err)
		}
		if len(users) == 0 {
			break
		}

		var (
			wg sync.WaitGroup
			mu sync.Mutex
		)
		for i, user := range users {
			wg.Add(1)
			go func() {
				defer wg.Done()

				err := s.fetchStaggered(ctx, time.Duration(i)*s.cfg.UserDelay, func(ctx context.Context) error {
					_, err := s.FetchDataForUser(ctx, user.ID, user.TerraID(), user.ReferenceID(), FetchOptions{
						ProcessData: opts.ProcessData,
					})
					return err
				})

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					summary.FailureCount++
					summary.Errors = append(summary.Errors, BatchError{
						UserID:      user.ID,
						TerraUserID: user.TerraID(),
						Error:       err.Error(),
					})
					s.logger.WithError(err).WithField("userId", user.ID).Warn("User fetch failed in batch")
					return
				}
				summary.SuccessCount++
			}()
		}
		wg.Wait()

		summary.ProcessedUsers += len(users)
		s.logger.WithFields(map[string]interface{}{
			"page":           page + 1,
			"pages":          pages,
			"processedUsers": summary.ProcessedUsers,
		}).Debug("Batch page completed")
	}

	s.logger.WithFields(map[string]interface{}{
		"totalUsers":     summary.TotalUsers,
		"processedUsers": summary.ProcessedUsers,
		"successCount":   summary.SuccessCount,
		"failureCount":   summary.FailureCount,
	}).Info("Batch fetch completed")

	return summary, nil
}

// fetchStaggered waits delay then runs fn, turning a panic into an error
func (s *Scheduler) fetchStaggered(ctx context.Context, delay time.Duration, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("user fetch panicked: %v", rec)
		}
	}()

	if delay > 0 {
		if err := s.cfg.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("stagger wait interrupted: %w", err)
		}
	}
	return fn(ctx)
}
