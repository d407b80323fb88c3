package audit

import (
	"sort"
	"sync"

	"github.com/yanun0323/logs"

	"main/internal/errpolicy"
)

// Recorder logs one line per distinct (disposition, code) pair and counts
// the repeats, so a flapping farm notice cannot flood a run's log. Flush
// emits one summary line per suppressed pair.
type Recorder struct {
	mu   sync.Mutex
	seen map[suppressKey]int
	rows []errpolicy.NormalizationRow
}

type suppressKey struct {
	disposition errpolicy.Disposition
	code        int
}

func NewRecorder() *Recorder {
	return &Recorder{seen: make(map[suppressKey]int)}
}

// Record logs the classification unless an identical (disposition, code)
// pair was already logged this run. Every row is retained for export.
func (r *Recorder) Record(row errpolicy.NormalizationRow) {
	key := suppressKey{disposition: row.Disposition}
	if row.Code != nil {
		key.code = *row.Code
	}

	r.mu.Lock()
	count := r.seen[key]
	r.seen[key] = count + 1
	r.rows = append(r.rows, row)
	r.mu.Unlock()

	if count > 0 {
		return
	}

	switch row.Disposition {
	case errpolicy.DispositionBlocking:
		logs.Errorf("api error code=%d disposition=%s reason=%s message=%q",
			key.code, row.Disposition, row.Reason, row.Message)
	case errpolicy.DispositionIgnored:
		logs.Debugf("api error code=%d disposition=%s reason=%s",
			key.code, row.Disposition, row.Reason)
	default:
		logs.Warnf("api error code=%d disposition=%s reason=%s message=%q",
			key.code, row.Disposition, row.Reason, row.Message)
	}
}

// Rows returns every recorded normalization row in arrival order.
func (r *Recorder) Rows() []errpolicy.NormalizationRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]errpolicy.NormalizationRow, len(r.rows))
	copy(out, r.rows)
	return out
}

// BlockingObserved reports whether any recorded row was blocking.
func (r *Recorder) BlockingObserved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Blocking {
			return true
		}
	}
	return false
}

// Flush logs one "suppressed=N" line per pair that repeated, in code order.
func (r *Recorder) Flush() {
	r.mu.Lock()
	keys := make([]suppressKey, 0, len(r.seen))
	for key, count := range r.seen {
		if count > 1 {
			keys = append(keys, key)
		}
	}
	counts := make(map[suppressKey]int, len(keys))
	for _, key := range keys {
		counts[key] = r.seen[key] - 1
	}
	r.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].code != keys[j].code {
			return keys[i].code < keys[j].code
		}
		return keys[i].disposition < keys[j].disposition
	})
	for _, key := range keys {
		logs.Warnf("api error code=%d disposition=%s suppressed=%d", key.code, key.disposition, counts[key])
	}
}
