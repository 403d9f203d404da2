package scheduler

import "time"

// dateLayout is the calendar date format the Terra API expects
const dateLayout = "2006-01-02"

// FetchWindow is the [Start, End] range requested from the data source
type FetchWindow struct {
	Start time.Time
	End   time.Time
}

// NewFetchWindow returns the window ending at now and reaching back lookbackDays
func NewFetchWindow(now time.Time, lookbackDays int) FetchWindow {
	return FetchWindow{
		Start: now.AddDate(0, 0, -lookbackDays),
		End:   now,
	}
}

// StartDate returns the start as a UTC calendar date
func (w FetchWindow) StartDate() string {
	return w.Start.UTC().Format(dateLayout)
}

// EndDate returns the end as a UTC calendar date
func (w FetchWindow) EndDate() string {
	return w.End.UTC().Format(dateLayout)
}
