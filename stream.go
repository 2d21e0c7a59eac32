package capflow

// StreamFrame is one element of a streamed invocation's lazy sequence.
// Non-final frames carry a partial fragment in Value. Exactly one
// frame has Done=true and carries the fully validated final output,
// unless the sequence terminates with a frame whose Err is set; any
// partials already delivered are not rolled back.
type StreamFrame struct {
	Value any
	Done  bool
	Err   error
}

// drainStream consumes a frame sequence and returns the final output,
// discarding partials. Used where a streamed capability is invoked
// through a plain (non-observing) code path.
func drainStream(frames <-chan StreamFrame) (any, error) {
	var final any
	var err error
	for frame := range frames {
		if frame.Err != nil {
			err = frame.Err
			continue
		}
		if frame.Done {
			final = frame.Value
		}
	}
	return final, err
}
