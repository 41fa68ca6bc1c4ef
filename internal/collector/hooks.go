package collector

import "time"

// Hooks receives source-level events that never become messages. Any field
// may be nil.
type Hooks struct {
	// LineSkipped is called for every streamed line that is not a data record.
	LineSkipped func(source string)
	// QueryFailed is called when a one-shot query fails and is swallowed.
	QueryFailed func(source string, err error)
	// QueryDone is called after every successful one-shot query.
	QueryDone func(source string, d time.Duration)
}

func (h Hooks) lineSkipped(source string) {
	if h.LineSkipped != nil {
		h.LineSkipped(source)
	}
}

func (h Hooks) queryFailed(source string, err error) {
	if h.QueryFailed != nil {
		h.QueryFailed(source, err)
	}
}

func (h Hooks) queryDone(source string, d time.Duration) {
	if h.QueryDone != nil {
		h.QueryDone(source, d)
	}
}
