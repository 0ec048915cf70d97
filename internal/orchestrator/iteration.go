package orchestrator

// Iteration tracks refine attempts against a fixed cap. Count never exceeds
// Cap.
type Iteration struct {
	Count int `json:"count"`
	Cap   int `json:"cap"`
}

// CanRefineAgain reports whether another repair attempt is permitted.
func (it Iteration) CanRefineAgain() bool {
	return it.Count < it.Cap
}

// Consume uses one iteration. It returns false, leaving Count unchanged,
// when the cap is already reached.
func (it *Iteration) Consume() bool {
	if !it.CanRefineAgain() {
		return false
	}
	it.Count++
	return true
}

// Remaining returns the number of unused iterations.
func (it Iteration) Remaining() int {
	if it.Count >= it.Cap {
		return 0
	}
	return it.Cap - it.Count
}
