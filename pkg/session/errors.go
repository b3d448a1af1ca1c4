package session

import "fmt"

// FundingError is fatal: the single funding transaction failed, the
// session aborts, and no batches are attempted.
type FundingError struct {
	Err error
}

func (e *FundingError) Error() string {
	return fmt.Sprintf("funding failed: %v", e.Err)
}

func (e *FundingError) Unwrap() error { return e.Err }

// BatchError is fatal for one batch and recoverable for the session: it is
// recorded in the batch log and the run continues.
type BatchError struct {
	BatchIndex int
	Err        error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d failed: %v", e.BatchIndex, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// CleanupWarning is non-fatal: by the time cleanup runs, funds have been
// distributed or accounted for in the batch log, and the custodial key
// backup covers any stranded balance.
type CleanupWarning struct {
	Op  string
	Err error
}

func (e *CleanupWarning) Error() string {
	return fmt.Sprintf("cleanup warning (%s): %v", e.Op, e.Err)
}

func (e *CleanupWarning) Unwrap() error { return e.Err }
