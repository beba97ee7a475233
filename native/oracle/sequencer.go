package oracle

import (
	"sync"
	"time"
)

// sequencerGracePeriod is how long after the sequencer comes back up prices
// remain untrusted, giving feeds time to repopulate post-outage.
const sequencerGracePeriod = time.Hour

// SequencerView reports rollup sequencer liveness. ChangedAt is the moment
// the reported status last flipped.
type SequencerView interface {
	Status() (up bool, changedAt time.Time)
}

// PushSequencerView is a SequencerView fed by an uptime relayer.
type PushSequencerView struct {
	mu        sync.RWMutex
	up        bool
	changedAt time.Time
}

func NewPushSequencerView() *PushSequencerView {
	return &PushSequencerView{up: true}
}

// SetStatus records a liveness transition. Repeated reports of the same
// status keep the original transition timestamp.
func (v *PushSequencerView) SetStatus(up bool, at time.Time) {
	if v == nil {
		return
	}
	v.mu.Lock()
	if v.up != up {
		v.up = up
		v.changedAt = at
	}
	v.mu.Unlock()
}

func (v *PushSequencerView) Status() (bool, time.Time) {
	if v == nil {
		return true, time.Time{}
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.up, v.changedAt
}
