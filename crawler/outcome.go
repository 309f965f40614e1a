package crawler

import (
	"errors"
	"fmt"

	"github.com/pevans/blogmirror/archive"
	"github.com/pevans/blogmirror/discovery"
)

// State is a candidate's position in the crawl state machine.
type State int

const (
	Pending State = iota
	Fetched
	Extracted
	Accepted
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fetched:
		return "fetched"
	case Extracted:
		return "extracted"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason classifies a rejection.
type Reason string

const (
	ReasonFetchError  Reason = "fetch_error"
	ReasonThinContent Reason = "thin_content"
)

var (
	// ErrFetch matches rejections caused by network, timeout or browser
	// failures.
	ErrFetch = errors.New("fetch failed")

	// ErrThinContent matches rejections caused by the minimum content length
	// policy.
	ErrThinContent = errors.New("content too short")
)

// Rejection is the error carried by a rejected outcome.
type Rejection struct {
	URL    string
	Reason Reason
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err == nil {
		return fmt.Sprintf("%s: %s", r.URL, r.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", r.URL, r.Reason, r.Err)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// Is matches ErrFetch or ErrThinContent according to the reason.
func (r *Rejection) Is(target error) bool {
	switch target {
	case ErrFetch:
		return r.Reason == ReasonFetchError
	case ErrThinContent:
		return r.Reason == ReasonThinContent
	}
	return false
}

// Outcome is the final state of one candidate.
type Outcome struct {
	// Index is the candidate's position in the input list.
	Index     int
	Candidate discovery.Candidate
	State     State

	// Post is set when State is Accepted.
	Post archive.Post

	// Defaulted lists the fields whose chain fell through to the declared
	// default, in field order.
	Defaulted []string

	// Err is a *Rejection when State is Rejected.
	Err error
}

// Reason returns the rejection reason, or "" for accepted outcomes.
func (o Outcome) Reason() Reason {
	var rej *Rejection
	if errors.As(o.Err, &rej) {
		return rej.Reason
	}
	return ""
}

// Summary counts the outcomes of a run.
type Summary struct {
	Accepted    int
	FetchErrors int
	ThinContent int
	Defaulted   map[string]int
}

func (s *Summary) add(o Outcome) {
	if s.Defaulted == nil {
		s.Defaulted = make(map[string]int)
	}
	for _, field := range o.Defaulted {
		s.Defaulted[field]++
	}

	switch o.Reason() {
	case ReasonFetchError:
		s.FetchErrors++
	case ReasonThinContent:
		s.ThinContent++
	default:
		if o.State == Accepted {
			s.Accepted++
		}
	}
}

// Total returns the number of candidates that reached a final state.
func (s Summary) Total() int {
	return s.Accepted + s.FetchErrors + s.ThinContent
}
