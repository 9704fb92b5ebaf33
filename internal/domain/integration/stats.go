package integration

// SyncStats accumulates over every run of an integration. All counters are
// monotonic.
type SyncStats struct {
	TotalSyncs       int64 `json:"total_syncs"`
	SuccessfulSyncs  int64 `json:"successful_syncs"`
	FailedSyncs      int64 `json:"failed_syncs"`
	CancelledSyncs   int64 `json:"cancelled_syncs"`
	RecordsProcessed int64 `json:"records_processed"`
	RecordsCreated   int64 `json:"records_created"`
	RecordsUpdated   int64 `json:"records_updated"`
	RecordsFailed    int64 `json:"records_failed"`
}

// Record folds a terminal operation into the totals. Non-terminal
// operations are ignored.
func (s *SyncStats) Record(op *SyncOperation) {
	if op == nil || !op.IsTerminal() {
		return
	}
	s.TotalSyncs++
	switch op.Status {
	case SyncStatusCompleted:
		s.SuccessfulSyncs++
	case SyncStatusFailed:
		s.FailedSyncs++
	case SyncStatusCancelled:
		s.CancelledSyncs++
	}
	s.RecordsProcessed += int64(op.RecordsProcessed)
	s.RecordsCreated += int64(op.RecordsCreated)
	s.RecordsUpdated += int64(op.RecordsUpdated)
	s.RecordsFailed += int64(op.RecordsFailed)
}

// ErrorRate is the share of runs that failed fatally, in [0,1]
func (s SyncStats) ErrorRate() float64 {
	if s.TotalSyncs == 0 {
		return 0
	}
	return float64(s.FailedSyncs) / float64(s.TotalSyncs)
}

// RecordErrorRate is the share of processed records that failed, in [0,1]
func (s SyncStats) RecordErrorRate() float64 {
	if s.RecordsProcessed == 0 {
		return 0
	}
	return float64(s.RecordsFailed) / float64(s.RecordsProcessed)
}
