package entity

import "time"

// CrawlStateVersion is the schema version written into every checkpoint record.
const CrawlStateVersion = 1

// CrawlState is the durable snapshot of a crawl: the visited set, the pending
// frontier and the page counter, plus retry bookkeeping.
type CrawlState struct {
	Version     int
	Visited     map[string]struct{}
	Frontier    []string
	PageCount   int
	Attempts    map[string]int // failed attempts per pending URL
	DeadLetters []DeadLetter
	SavedAt     time.Time
}

// NewCrawlState returns an empty state: no visited pages, empty frontier, zero count.
func NewCrawlState() *CrawlState {
	return &CrawlState{
		Version:  CrawlStateVersion,
		Visited:  make(map[string]struct{}),
		Frontier: []string{},
		Attempts: make(map[string]int),
	}
}

// Normalize fills nil collections so callers never deal with nil maps.
func (s *CrawlState) Normalize() {
	if s.Visited == nil {
		s.Visited = make(map[string]struct{})
	}
	if s.Frontier == nil {
		s.Frontier = []string{}
	}
	if s.Attempts == nil {
		s.Attempts = make(map[string]int)
	}
	if s.Version == 0 {
		s.Version = CrawlStateVersion
	}
}

// Progress returns the counts reported by the inspection tool.
func (s *CrawlState) Progress() Progress {
	return Progress{
		PageCount:    s.PageCount,
		Downloaded:   len(s.Visited),
		Discovered:   len(s.Visited) + len(s.Frontier),
		Remaining:    len(s.Frontier),
		DeadLettered: len(s.DeadLetters),
	}
}
