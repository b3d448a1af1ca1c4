package session

import (
	"context"
	"fmt"
)

// Report summarizes a completed run for the operator. The batch log inside
// it is the basis for any manual remediation; nothing is retried
// automatically.
type Report struct {
	Status    Status
	Confirmed int
	Failed    int
	Warnings  []string
}

// Run drives the whole workflow: fund, distribute all batches, clean up.
// Funding failure is fatal and returns a FundingError with the session
// aborted. Batch failures and cleanup warnings are reported, not returned
// as errors.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	if err := s.Fund(ctx); err != nil {
		return nil, err
	}

	results, err := s.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start distribution: %w", err)
	}

	confirmed, failed := 0, 0
	for r := range results {
		if r.Err != "" {
			failed++
		} else {
			confirmed++
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("distribution interrupted: %w", err)
	}

	warnings := s.Cleanup(ctx)
	warningStrs := make([]string, 0, len(warnings))
	for _, w := range warnings {
		warningStrs = append(warningStrs, w.Error())
	}

	report := &Report{
		Status:    s.Status(),
		Confirmed: confirmed,
		Failed:    failed,
		Warnings:  warningStrs,
	}
	s.log.Info("session: run complete",
		"session", s.id,
		"confirmed", confirmed,
		"failed", failed,
		"warnings", len(warnings))
	return report, nil
}
