package session

// SetLoopError records err as if the processing loop had failed a chunk.
func SetLoopError(r *Recorder, err error) { r.loopErr = err }
