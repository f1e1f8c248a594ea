package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// State is the pipeline position of one region page.
type State string

// Region states. A region page that committed ends back at StateIdle.
const (
	StateIdle      State = "IDLE"
	StateCrawling  State = "CRAWLING"
	StateEnriching State = "ENRICHING"
	StateCleaning  State = "CLEANING"
	StateAdvancing State = "ADVANCING"
	StateFailed    State = "FAILED"
)

// RegionReport is the outcome of one region page.
type RegionReport struct {
	Region     string `json:"region"`
	Page       int    `json:"page"`
	State      State  `json:"state"`
	Committed  bool   `json:"committed"`
	Candidates int    `json:"candidates"`
	Duplicates int    `json:"duplicates"`
	Dropped    int    `json:"dropped"`
	Stored     int    `json:"stored"`
	Cleaned    int    `json:"cleaned"`
	Facilities int    `json:"facilities"`
	// FailedIn is the state the region was in when it failed.
	FailedIn State  `json:"failed_in,omitempty"`
	Error    string `json:"error,omitempty"`
	Err      error  `json:"-"`
}

// RunReport summarizes one pass over the current page.
type RunReport struct {
	RunID      string         `json:"run_id"`
	Page       int            `json:"page"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Aborted    bool           `json:"aborted"`
	Regions    []RegionReport `json:"regions"`
}

// Committed counts regions whose cursor advanced.
func (r RunReport) Committed() int {
	n := 0
	for _, rr := range r.Regions {
		if rr.Committed {
			n++
		}
	}
	return n
}

// Failed counts regions that ended in StateFailed.
func (r RunReport) Failed() int {
	n := 0
	for _, rr := range r.Regions {
		if rr.State == StateFailed {
			n++
		}
	}
	return n
}

// Err joins every region failure, naming the region of each.
func (r RunReport) Err() error {
	var errs []error
	for _, rr := range r.Regions {
		if rr.Err != nil {
			errs = append(errs, fmt.Errorf("%s page %d: %w", rr.Region, rr.Page, rr.Err))
		}
	}
	return errors.Join(errs...)
}
