package matching

import (
	"context"
	"log"
	"sync"

	"github.com/savegress/bankrecon/pkg/models"
	"github.com/savegress/bankrecon/pkg/workerpool"
)

// RecalculateAll reruns matching and reconciliation for every account/period
// that is not yet settled. Periods are distributed across the worker pool;
// the per-key locks in the service keep same-key work serialized, so batches
// for different accounts proceed concurrently while one account/period is
// never mutated by two workers at once.
func (s *Service) RecalculateAll(ctx context.Context, workers int) (processed int, failed int, err error) {
	if workers <= 0 {
		workers = 4
	}
	recs, err := s.store.Reconciliations(ctx)
	if err != nil {
		return 0, 0, err
	}

	pool, err := workerpool.New(workerpool.Config{Workers: workers, QueueSize: len(recs) + 1})
	if err != nil {
		return 0, 0, err
	}
	defer pool.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, rec := range recs {
		if rec.Status == models.ReconciliationSettled {
			continue
		}
		accountID, period := rec.AccountID, rec.Period
		wg.Add(1)
		task := func() error {
			defer wg.Done()
			if _, runErr := s.RunMatching(ctx, accountID, period, false); runErr != nil {
				log.Printf("recalculate %d/%s: %v", accountID, period, runErr)
				mu.Lock()
				failed++
				mu.Unlock()
				return runErr
			}
			mu.Lock()
			processed++
			mu.Unlock()
			return nil
		}
		if submitErr := pool.Submit(task); submitErr != nil {
			wg.Done()
			return processed, failed, submitErr
		}
	}
	wg.Wait()
	return processed, failed, nil
}
