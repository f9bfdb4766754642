package jobs

import "fmt"

// Progress tracks how far a job has advanced through its work. Total is fixed
// at submission time and never changes afterward; Processed is monotonically
// non-decreasing while the job is processing.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// NewProgress returns a zeroed progress counter for a batch of the given size.
func NewProgress(total int) Progress {
	return Progress{Processed: 0, Total: total}
}

// Percent returns the completion percentage in the range [0, 100].
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Processed) / float64(p.Total) * 100
}

// advance moves the processed counter forward. It rejects regressions so a
// stale progress report can never walk the counter backwards.
func (p *Progress) advance(processed int) error {
	if processed < p.Processed {
		return fmt.Errorf("progress cannot decrease: %d -> %d", p.Processed, processed)
	}
	if processed > p.Total {
		return fmt.Errorf("progress %d exceeds total %d", processed, p.Total)
	}
	p.Processed = processed
	return nil
}
