package keystore

import (
	"sync/atomic"

	"github.com/codebatai/pf-verify/internal/domain"
)

// Holder publishes the current key-set snapshot to concurrent verifications.
// Readers get a consistent snapshot; a reload swaps the whole pointer and
// never affects verifications already in flight.
type Holder struct {
	current atomic.Pointer[domain.KeySet]
}

func NewHolder(set *domain.KeySet) *Holder {
	h := &Holder{}
	if set != nil {
		h.current.Store(set)
	}
	return h
}

func (h *Holder) Get() *domain.KeySet {
	return h.current.Load()
}

// Replace installs a new snapshot and returns the previous one.
func (h *Holder) Replace(set *domain.KeySet) *domain.KeySet {
	return h.current.Swap(set)
}
