package goAuthSync

import "sync/atomic"

var instanceSeq atomic.Uint64

func nextInstanceID() uint64 {
	return instanceSeq.Add(1)
}

// ResetInstanceIDs restarts client instance numbering at 1. Test harnesses
// call it between cases; it must not race with Build.
func ResetInstanceIDs() {
	instanceSeq.Store(0)
}
