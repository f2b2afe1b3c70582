package mqtt

import (
	"sync"
	"time"
)

// Totals is one day's model usage as seen on the bus.
type Totals struct {
	Day      string // YYYY-MM-DD in the counter's location
	Input    int64
	Output   int64
	Requests int64
}

// Tokens is the input plus output count.
func (t Totals) Tokens() int64 { return t.Input + t.Output }

// DailyTokens accumulates llm_response token counts and starts over
// when the local date changes. Safe for concurrent use.
type DailyTokens struct {
	mu  sync.Mutex
	cur Totals
	loc *time.Location
	now func() time.Time
}

// NewDailyTokens returns a counter whose day boundary is midnight in
// loc, or [time.Local] when loc is nil.
func NewDailyTokens(loc *time.Location) *DailyTokens {
	if loc == nil {
		loc = time.Local
	}
	return &DailyTokens{loc: loc, now: time.Now}
}

// OnTokens adds one model call.
func (d *DailyTokens) OnTokens(inputTokens, outputTokens int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rollover()
	d.cur.Input += int64(inputTokens)
	d.cur.Output += int64(outputTokens)
	d.cur.Requests++
}

// Snapshot returns today's totals.
func (d *DailyTokens) Snapshot() Totals {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rollover()
	return d.cur
}

// rollover zeroes the counters on a new date. Caller holds d.mu.
func (d *DailyTokens) rollover() {
	if day := d.now().In(d.loc).Format(time.DateOnly); day != d.cur.Day {
		d.cur = Totals{Day: day}
	}
}
