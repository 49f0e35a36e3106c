package jobs

import (
	"context"
	"sync"
	"time"
)

const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Job is the progress record of one chapter upload.
type Job struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	Operation     string    `json:"operation"` // e.g. "receiving", "extracting", "publishing"
	Progress      int       `json:"progress"`
	ReceivedBytes int64     `json:"receivedBytes"`
	TotalBytes    int64     `json:"totalBytes,omitempty"`
	ChapterID     string    `json:"chapterId,omitempty"`
	WebPath       string    `json:"webPath,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Done reports whether the job reached success or error.
func (j *Job) Done() bool {
	return j.Status == StatusSuccess || j.Status == StatusError
}

// Store holds all jobs in memory
type Store struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	watchers map[string][]chan *Job
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*Job), watchers: make(map[string][]chan *Job), now: time.Now}
}

// Subscribe returns a channel that receives job updates for the given id.
// The returned function should be called to unsubscribe when done.
func (s *Store) Subscribe(id string) (<-chan *Job, func()) {
	ch := make(chan *Job, 256)
	s.mu.Lock()
	s.watchers[id] = append(s.watchers[id], ch)
	if job := s.jobs[id]; job != nil {
		// send current state
		copied := *job
		ch <- &copied
	}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			watchers := s.watchers[id]
			for i, c := range watchers {
				if c == ch {
					s.watchers[id] = append(watchers[:i], watchers[i+1:]...)
					break
				}
			}
			if len(s.watchers[id]) == 0 {
				delete(s.watchers, id)
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) broadcastLocked(id string) {
	job := s.jobs[id]
	job.UpdatedAt = s.now()
	copied := *job

	for _, ch := range s.watchers[id] {
		if job.Done() {
			// make room for the terminal state by dropping the oldest
			// update; only broadcastLocked sends, so the send cannot block
			select {
			case ch <- &copied:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- &copied:
				default:
				}
			}
			continue
		}
		select {
		case ch <- &copied:
		default:
		}
	}
}

// Create registers a pending job. total is the declared body size, or -1.
func (s *Store) Create(id string, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if total < 0 {
		total = 0
	}
	s.jobs[id] = &Job{ID: id, Status: StatusPending, Operation: "receiving", TotalBytes: total}
	s.broadcastLocked(id)
}

// SetReceived records body progress. Subscribers are only notified when the
// percentage changes, or every call when the total is unknown.
func (s *Store) SetReceived(id string, received int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Done() {
		return
	}
	j.Status = StatusRunning
	j.ReceivedBytes = received
	if j.TotalBytes > 0 {
		p := int(received * 100 / j.TotalBytes)
		if p > 100 {
			p = 100
		}
		if p == j.Progress {
			return
		}
		j.Progress = p
	}
	s.broadcastLocked(id)
}

// SetOperation moves the job to a new pipeline stage.
func (s *Store) SetOperation(id, operation, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && !j.Done() {
		j.Status = StatusRunning
		j.Operation = operation
		j.Message = msg
		s.broadcastLocked(id)
	}
}

// Complete marks the job successful.
func (s *Store) Complete(id, chapterID, webPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = StatusSuccess
		j.Message = "Chapter published"
		j.Progress = 100
		j.ChapterID = chapterID
		j.WebPath = webPath
		s.broadcastLocked(id)
	}
}

// Fail marks the job failed with a client-safe message.
func (s *Store) Fail(id, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = StatusError
		j.Message = msg
		s.broadcastLocked(id)
	}
}

// Get returns a copy of the job.
func (s *Store) Get(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	copied := *j
	return &copied, true
}

// Prune drops finished jobs last updated before the cutoff.
func (s *Store) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, j := range s.jobs {
		if j.Done() && j.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// StartJanitor prunes finished jobs older than ttl every interval until ctx ends.
func (s *Store) StartJanitor(ctx context.Context, interval, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Prune(s.now().Add(-ttl))
			}
		}
	}()
}
