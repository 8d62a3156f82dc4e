package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/wasteplan/internal/plan"
	"github.com/odyssey-erp/wasteplan/internal/shared"
)

// Status classifies a planned occurrence after matching.
type Status string

const (
	// StatusNotPerformed marks a plan with no matching actual.
	StatusNotPerformed Status = "NOT_PERFORMED"
	// StatusOnSchedule marks a deviation within the first tolerance.
	StatusOnSchedule Status = "ON_SCHEDULE"
	// StatusDelayedAcceptable marks a deviation within the second tolerance.
	StatusDelayedAcceptable Status = "DELAYED_ACCEPTABLE"
	// StatusDelayedSevere marks a deviation beyond every tolerance.
	StatusDelayedSevere Status = "DELAYED_SEVERE"
)

// Statuses lists every status in report order.
func Statuses() []Status {
	return []Status{StatusOnSchedule, StatusDelayedAcceptable, StatusDelayedSevere, StatusNotPerformed}
}

// Actual is one observed collection supplied by the actual-result source.
// ActualTime is kept raw so malformed values can be reported per record.
type Actual struct {
	Date       time.Time        `json:"date"`
	ActualTime string           `json:"actual_time"`
	Column     shared.ColumnKey `json:"column"`
	CompanyID  *int64           `json:"company_id,omitempty"`
	Vol        *shared.Quantity `json:"vol,omitempty"`
	Note       string           `json:"note,omitempty"`
}

// Tolerances holds the classification thresholds in minutes. The engine has
// no defaults; callers must supply them.
type Tolerances struct {
	OnSchedule int `json:"on_schedule_minutes"`
	Acceptable int `json:"acceptable_minutes"`
	// NegativeSlack bounds how early an actual may be recorded before its
	// plan and still match. Nil means no bound.
	NegativeSlack *int `json:"negative_slack_minutes,omitempty"`
}

// Validate ensures 0 <= OnSchedule <= Acceptable.
func (t Tolerances) Validate() error {
	if t.OnSchedule < 0 {
		return shared.NewValidationError("on_schedule_minutes", "must be >= 0, got %d", t.OnSchedule)
	}
	if t.Acceptable < t.OnSchedule {
		return shared.NewValidationError("acceptable_minutes", "must be >= on_schedule_minutes (%d), got %d", t.OnSchedule, t.Acceptable)
	}
	if t.NegativeSlack != nil && *t.NegativeSlack < 0 {
		return shared.NewValidationError("negative_slack_minutes", "must be >= 0, got %d", *t.NegativeSlack)
	}
	return nil
}

// Classify maps a signed deviation onto a status.
func (t Tolerances) Classify(diffMinutes int) Status {
	abs := diffMinutes
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs <= t.OnSchedule:
		return StatusOnSchedule
	case abs <= t.Acceptable:
		return StatusDelayedAcceptable
	default:
		return StatusDelayedSevere
	}
}

// Record is one planned occurrence with its matched actual, if any.
type Record struct {
	Date            time.Time         `json:"date"`
	WasteType       string            `json:"waste_type"`
	Planned         *plan.Entry       `json:"planned,omitempty"`
	Actual          *Actual           `json:"actual,omitempty"`
	ActualAt        *shared.ClockTime `json:"actual_at,omitempty"`
	Status          Status            `json:"status"`
	TimeDiffMinutes *int              `json:"time_diff_minutes"`
}

// RecordSide tells which input list a rejected record came from.
type RecordSide string

const (
	SidePlanned RecordSide = "planned"
	SideActual  RecordSide = "actual"
)

// RecordError reports an input excluded from matching.
type RecordError struct {
	Side    RecordSide  `json:"side"`
	Index   int         `json:"index"`
	Planned *plan.Entry `json:"planned,omitempty"`
	Actual  *Actual     `json:"actual,omitempty"`
	Err     error       `json:"-"`
	Message string      `json:"message"`
}

func (e RecordError) Error() string {
	return fmt.Sprintf("reconcile: %s record %d: %v", e.Side, e.Index, e.Err)
}

// Unwrap exposes the underlying validation error.
func (e RecordError) Unwrap() error { return e.Err }

// Result separates matched records, unplanned actuals and rejected inputs.
type Result struct {
	Records     []Record      `json:"records"`
	Unscheduled []Actual      `json:"unscheduled"`
	Errors      []RecordError `json:"errors"`
}

// Summary counts outcomes by status.
type Summary struct {
	ByStatus    map[Status]int `json:"by_status"`
	Unscheduled int            `json:"unscheduled"`
	Errors      int            `json:"errors"`
}

// Summarize tallies a result.
func (r Result) Summarize() Summary {
	s := Summary{ByStatus: make(map[Status]int, 4), Unscheduled: len(r.Unscheduled), Errors: len(r.Errors)}
	for _, status := range Statuses() {
		s.ByStatus[status] = 0
	}
	for _, rec := range r.Records {
		s.ByStatus[rec.Status]++
	}
	return s
}

// ErrInvalidTolerances is returned when the thresholds are inconsistent.
var ErrInvalidTolerances = errors.New("reconcile: invalid tolerances")
