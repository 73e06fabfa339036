package lab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Snapshotter is the persistence collaborator.
type Snapshotter interface {
	Load(ctx context.Context) (*Dataset, error)
	Save(ctx context.Context, ds *Dataset) error
}

// Service owns one mutable Dataset. Mutations take the write lock, reads the
// read lock, so a traversal never interleaves with a mutation.
type Service struct {
	mu    sync.RWMutex
	data  *Dataset
	store Snapshotter
	now   func() time.Time
	newID func() string

	// set while the in-memory dataset is a fallback for a failed load
	loadFailed bool
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDs replaces the uuid generator.
func WithIDs(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// NewService creates a service over ds. A nil ds starts empty; store may be
// nil when persistence is not needed.
func NewService(ds *Dataset, store Snapshotter, opts ...Option) *Service {
	if ds == nil {
		ds = NewDataset()
	}
	s := &Service{
		data:  ds,
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a deep copy of the current dataset.
func (s *Service) Snapshot() *Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Clone()
}

// Replace swaps in a new dataset.
func (s *Service) Replace(ds *Dataset) {
	if ds == nil {
		ds = NewDataset()
	}
	s.mu.Lock()
	s.data = ds
	s.mu.Unlock()
}

// Load reads the dataset from the store. On failure the service continues
// with an empty dataset, reports LoadFailed until a load or an explicit Save
// succeeds, and the error is returned to the caller.
func (s *Service) Load(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("load: no store configured")
	}
	ds, err := s.store.Load(ctx)
	if ds == nil {
		ds = NewDataset()
	}
	s.mu.Lock()
	if err != nil {
		s.data = NewDataset()
	} else {
		s.data = ds
	}
	s.loadFailed = err != nil
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	return nil
}

// LoadFailed reports whether the dataset is the empty fallback of a failed
// Load. Background saves must not overwrite storage while it is set.
func (s *Service) LoadFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadFailed
}

// Save writes a snapshot of the current dataset to the store. A successful
// save clears LoadFailed.
func (s *Service) Save(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("save: no store configured")
	}
	if err := s.store.Save(ctx, s.Snapshot()); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	s.mu.Lock()
	s.loadFailed = false
	s.mu.Unlock()
	return nil
}

// Visible filters the dataset for user. The returned labs are copies.
func (s *Service) Visible(user User, mode ViewMode, now time.Time) []*Lab {
	s.mu.RLock()
	defer s.mu.RUnlock()
	labs := Visible(s.data.Labs, user, mode, now)
	out := make([]*Lab, 0, len(labs))
	for _, l := range labs {
		out = append(out, l.clone())
	}
	return out
}

// Lab returns a copy of one lab.
func (s *Service) Lab(id string) (*Lab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l := s.data.FindLab(id)
	if l == nil {
		return nil, ErrNotFound
	}
	return l.clone(), nil
}

// CreateLab adds a lab with a generated id. venue and window are optional.
func (s *Service) CreateLab(name string, venue *Venue, window *ScheduleWindow) *Lab {
	l := &Lab{ID: s.newID(), Name: name}
	if venue != nil {
		v := *venue
		l.Venue = &v
	}
	if window != nil {
		w := window.clone()
		l.Schedule = &w
	}
	s.mu.Lock()
	s.data.Labs = append(s.data.Labs, l)
	out := l.clone()
	s.mu.Unlock()
	return out
}

// SetSchedule replaces a lab's planned window.
func (s *Service) SetSchedule(labID string, window ScheduleWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.data.FindLab(labID)
	if l == nil {
		return ErrNotFound
	}
	w := window.clone()
	l.Schedule = &w
	return nil
}

// AssignInstructor replaces the lab's instructor with the identity "I-<labID>".
// An existing dataset record with that id is reused and renamed.
func (s *Service) AssignInstructor(labID, name string) (Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.data.FindLab(labID)
	if l == nil {
		return Person{}, ErrNotFound
	}
	id := "I-" + labID
	instr := s.data.findInstructor(id)
	if instr == nil {
		instr = &Instructor{Staff{Person: Person{ID: id, Name: name}}}
		s.data.Instructors = append(s.data.Instructors, instr)
	}
	instr.Name = name
	instr.AssignLab(labID)
	p := instr.Person
	l.Instructor = &p
	return p, nil
}

// AssignTA creates a TA identity with a fresh id and adds it to the lab.
func (s *Service) AssignTA(labID, name string) (Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.data.FindLab(labID)
	if l == nil {
		return Person{}, ErrNotFound
	}
	ta := &TA{Staff{Person: Person{ID: "TA-" + labID + "-" + s.newID(), Name: name}}}
	s.data.TAs = append(s.data.TAs, ta)
	ta.AssignLab(labID)
	l.AddTA(ta.Person)
	return ta.Person, nil
}

// LinkTA attaches an existing TA record to a lab. Linking the same TA twice
// leaves a single entry.
func (s *Service) LinkTA(labID, taID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.data.FindLab(labID)
	ta := s.data.findTA(taID)
	if l == nil || ta == nil {
		return ErrNotFound
	}
	ta.AssignLab(labID)
	l.AddTA(ta.Person)
	return nil
}

// RecordSession appends a timesheet entry to a lab.
func (s *Service) RecordSession(labID string, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.data.FindLab(labID)
	if l == nil {
		return ErrNotFound
	}
	l.AddSession(Session{ActualStart: copyTime(sess.ActualStart), ActualEnd: copyTime(sess.ActualEnd)})
	return nil
}

// RequestMakeup files a pending makeup request for an existing lab.
func (s *Service) RequestMakeup(labID, instructorID string, window ScheduleWindow) (MakeupRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.FindLab(labID) == nil {
		return MakeupRequest{}, ErrNotFound
	}
	req := &MakeupRequest{
		ID:           s.newID(),
		LabID:        labID,
		InstructorID: instructorID,
		Window:       window.clone(),
		CreatedAt:    s.now(),
	}
	s.data.Requests = append(s.data.Requests, req)
	return *req, nil
}

// ApproveMakeup marks a request approved. Approving twice is harmless.
func (s *Service) ApproveMakeup(requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.data.findRequest(requestID)
	if req == nil {
		return ErrNotFound
	}
	req.Approved = true
	return nil
}

// Requests lists makeup requests in filing order. An empty labID lists all.
func (s *Service) Requests(labID string) []MakeupRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MakeupRequest, 0, len(s.data.Requests))
	for _, r := range s.data.Requests {
		if labID != "" && r.LabID != labID {
			continue
		}
		c := *r
		c.Window = r.Window.clone()
		out = append(out, c)
	}
	return out
}
