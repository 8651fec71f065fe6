package promotion

import (
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// CodeIndex is a bloom-filter membership index over known coupon codes.
// It answers "definitely unknown" / "maybe known" so the common case of a
// mistyped code is rejected without a repository round trip. Codes are
// matched case-insensitively.
type CodeIndex struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewCodeIndex sizes the filter for the expected number of codes and the
// acceptable false-positive rate.
func NewCodeIndex(capacity uint, fpr float64) *CodeIndex {
	return &CodeIndex{filter: bloom.NewWithEstimates(capacity, fpr)}
}

// Add records a coupon code as known.
func (ci *CodeIndex) Add(code string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.filter.AddString(strings.ToUpper(code))
}

// MightContain reports whether the code may be known. False means the code
// is definitely unknown; true requires a repository lookup to confirm.
func (ci *CodeIndex) MightContain(code string) bool {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return ci.filter.TestString(strings.ToUpper(code))
}
