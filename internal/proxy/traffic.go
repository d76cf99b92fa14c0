package proxy

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RequestRecord is one gateway request kept in the traffic log.
type RequestRecord struct {
	Seq       int64         `json:"seq"`
	Timestamp time.Time     `json:"timestamp"`
	Method    string        `json:"method"`
	Host      string        `json:"host"`
	Path      string        `json:"path"`
	Target    string        `json:"target,omitempty"`
	Status    int           `json:"status"`
	Outcome   string        `json:"outcome"`
	Duration  time.Duration `json:"duration"`
}

// TrafficLog is a fixed-size circular buffer of recent requests.
type TrafficLog struct {
	mu      sync.RWMutex
	entries []RequestRecord
	next    int
	count   int64
}

// NewTrafficLog creates a log holding at most maxSize records.
func NewTrafficLog(maxSize int) *TrafficLog {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &TrafficLog{entries: make([]RequestRecord, maxSize)}
}

// Add appends a record, overwriting the oldest once full.
func (tl *TrafficLog) Add(rec RequestRecord) {
	tl.mu.Lock()
	tl.entries[tl.next] = rec
	tl.next = (tl.next + 1) % len(tl.entries)
	tl.count++
	tl.mu.Unlock()
}

// Query returns matching records, oldest first. A positive filter limit
// keeps the newest matches.
func (tl *TrafficLog) Query(filter TrafficFilter) []RequestRecord {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	size := len(tl.entries)
	available := int(min(tl.count, int64(size)))
	start := 0
	if tl.count > int64(size) {
		start = tl.next
	}

	var results []RequestRecord
	for i := 0; i < available; i++ {
		rec := tl.entries[(start+i)%size]
		if filter.Matches(rec) {
			results = append(results, rec)
		}
	}
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[len(results)-filter.Limit:]
	}
	return results
}

// Clear removes all records.
func (tl *TrafficLog) Clear() {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	clear(tl.entries)
	tl.next = 0
	tl.count = 0
}

// Stats returns log statistics.
func (tl *TrafficLog) Stats() TrafficStats {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	size := int64(len(tl.entries))
	return TrafficStats{
		TotalEntries:     tl.count,
		AvailableEntries: min(tl.count, size),
		MaxSize:          size,
		Dropped:          max(0, tl.count-size),
	}
}

// TrafficStats holds traffic log statistics.
type TrafficStats struct {
	TotalEntries     int64 `json:"total_entries"`
	AvailableEntries int64 `json:"available_entries"`
	MaxSize          int64 `json:"max_size"`
	Dropped          int64 `json:"dropped"`
}

// TrafficFilter specifies criteria for querying the traffic log.
type TrafficFilter struct {
	Outcomes    []string
	Methods     []string
	URLPattern  string // substring of the target URL
	StatusCodes []int
	Since       time.Time
	Limit       int
}

// Matches returns true if rec matches the filter.
func (f TrafficFilter) Matches(rec RequestRecord) bool {
	if len(f.Outcomes) > 0 && !containsString(f.Outcomes, rec.Outcome) {
		return false
	}
	if len(f.Methods) > 0 && !containsString(f.Methods, rec.Method) {
		return false
	}
	if f.URLPattern != "" && !strings.Contains(rec.Target, f.URLPattern) {
		return false
	}
	if len(f.StatusCodes) > 0 {
		found := false
		for _, code := range f.StatusCodes {
			if code == rec.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// filterFromQuery reads outcome, method, url, status and limit query
// parameters. Repeated parameters are OR-ed.
func filterFromQuery(r *http.Request) TrafficFilter {
	q := r.URL.Query()
	f := TrafficFilter{
		Outcomes:   q["outcome"],
		Methods:    q["method"],
		URLPattern: q.Get("url"),
	}
	for _, s := range q["status"] {
		if code, err := strconv.Atoi(s); err == nil {
			f.StatusCodes = append(f.StatusCodes, code)
		}
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		f.Limit = n
	}
	return f
}

func (tl *TrafficLog) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodDelete {
		tl.Clear()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Stats    TrafficStats    `json:"stats"`
		Requests []RequestRecord `json:"requests"`
	}{tl.Stats(), tl.Query(filterFromQuery(r))})
}
