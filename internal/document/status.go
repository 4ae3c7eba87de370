package document

// transitions is the closed set of legal status moves. Corrections bypass it
// on insert (born ACCEPTED); administrative override bypasses it entirely
// except for the terminal check.
var transitions = map[Status][]Status{
	StatusPending:  {StatusInReview},
	StatusInReview: {StatusPending, StatusAccepted, StatusRejected},
	StatusAccepted: {StatusReReview, StatusSettled, StatusTransferred},
	StatusRejected: {StatusReReview},
	StatusReReview: {StatusPending, StatusAccepted, StatusRejected},
	StatusSettled:  {StatusTransferred},
}

// canTransition reports whether from -> to is a legal workflow move.
func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInReview, StatusAccepted, StatusRejected,
		StatusReReview, StatusSettled, StatusTransferred:
		return true
	}
	return false
}
