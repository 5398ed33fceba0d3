package crawler

import (
	"sync"
	"time"
)

type keyState uint8

const (
	keyQueued keyState = iota + 1
	keyVisited
)

type queuedTask struct {
	task CrawlTask
	key  VisitedKey
}

// outcome is what a worker reports back for one popped task.
type outcome struct {
	saved         *SavedFile
	failure       *PageFailure
	skippedRobots bool
	abandoned     bool
	duplicate     bool
	redirectedOut string
	children      []CrawlTask
}

// session owns all mutable state of one run: the FIFO frontier, the visited
// set and the tallies. Every access goes through mu, so the check-then-mark
// on a VisitedKey is atomic across workers.
type session struct {
	mu   sync.Mutex
	cond *sync.Cond

	scope    scope
	maxPages int

	frontier []queuedTask
	head     int
	known    map[VisitedKey]keyState
	external map[string]struct{}
	inflight int
	closed   bool

	summary CrawlSummary
}

func newSession(sc scope, maxPages int, summary CrawlSummary) *session {
	s := &session{
		scope:    sc,
		maxPages: maxPages,
		known:    make(map[VisitedKey]keyState),
		external: make(map[string]struct{}),
		summary:  summary,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// seed enqueues the root task without a scope check.
func (s *session) seed(task CrawlTask) error {
	key, err := KeyFor(task)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known[key] = keyQueued
	s.frontier = append(s.frontier, queuedTask{task: task, key: key})
	return nil
}

// next blocks until a task is ready to be fetched and marks it visited before
// returning it. It returns false once the frontier is drained with nothing in
// flight, the page budget is spent, or the session was interrupted.
func (s *session) next() (CrawlTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.closed {
			return CrawlTask{}, false
		}
		if s.maxPages > 0 && s.summary.Visited >= s.maxPages {
			return CrawlTask{}, false
		}
		for s.head < len(s.frontier) {
			item := s.frontier[s.head]
			s.frontier[s.head] = queuedTask{}
			s.head++
			if s.known[item.key] == keyVisited {
				s.summary.Duplicates++
				continue
			}
			s.known[item.key] = keyVisited
			s.summary.Visited++
			s.inflight++
			return item.task, true
		}
		if s.inflight == 0 {
			s.cond.Broadcast()
			return CrawlTask{}, false
		}
		s.cond.Wait()
	}
}

// complete records the outcome of a task and enqueues its children.
func (s *session) complete(task CrawlTask, out outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	switch {
	case out.abandoned:
		s.summary.Abandoned++
	case out.skippedRobots:
		s.summary.SkippedRobots++
	case out.duplicate:
		s.summary.Duplicates++
	case out.redirectedOut != "":
		s.recordExternalLocked(out.redirectedOut)
	case out.failure != nil:
		s.summary.Failed++
		s.summary.Failures = append(s.summary.Failures, *out.failure)
	case out.saved != nil:
		s.summary.Saved++
		s.summary.Files = append(s.summary.Files, out.saved.Path)
	}
	for _, child := range out.children {
		s.offerLocked(child)
	}
	s.cond.Broadcast()
}

func (s *session) offerLocked(task CrawlTask) {
	if !s.scope.contains(task.URL) {
		s.recordExternalLocked(task.URL)
		return
	}
	key, err := KeyFor(task)
	if err != nil {
		return
	}
	if _, ok := s.known[key]; ok {
		s.summary.Duplicates++
		return
	}
	s.known[key] = keyQueued
	s.frontier = append(s.frontier, queuedTask{task: task, key: key})
}

func (s *session) recordExternalLocked(rawURL string) {
	if _, seen := s.external[rawURL]; seen {
		return
	}
	s.external[rawURL] = struct{}{}
	s.summary.SkippedOutOfScope++
	s.summary.OutOfScope = append(s.summary.OutOfScope, rawURL)
}

// inScope reports whether rawURL lies inside the crawl scope. The scope never
// changes after newSession, so no lock is taken.
func (s *session) inScope(rawURL string) bool {
	return s.scope.contains(rawURL)
}

// claim marks keys learned only after a fetch, such as a redirect target or a
// page's space key, as visited. It marks nothing and returns false when any
// of them was already visited by another task.
func (s *session) claim(keys []VisitedKey) bool {
	if len(keys) == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		if s.known[key] == keyVisited {
			return false
		}
	}
	for _, key := range keys {
		s.known[key] = keyVisited
	}
	return true
}

// interrupt wakes every parked worker and stops dispatching.
func (s *session) interrupt() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// finish closes the session and returns the final summary. Tasks still
// queued count as abandoned after an interruption and as unvisited when the
// page budget ran out.
func (s *session) finish(at time.Time, interrupted bool) CrawlSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	pending := 0
	for _, item := range s.frontier[s.head:] {
		if s.known[item.key] != keyVisited {
			pending++
		}
	}
	switch {
	case interrupted:
		s.summary.Interrupted = true
		s.summary.Abandoned += pending
	case s.maxPages > 0 && s.summary.Visited >= s.maxPages:
		s.summary.Unvisited = pending
	}
	s.summary.FinishedAt = at
	out := s.summary
	out.Failures = append([]PageFailure(nil), s.summary.Failures...)
	out.OutOfScope = append([]string(nil), s.summary.OutOfScope...)
	out.Files = append([]string(nil), s.summary.Files...)
	return out
}
