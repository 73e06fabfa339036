package store

import (
	"context"
	"log"
	"time"

	"labtrack/internal/lab"
)

// Saver funnels save requests into one goroutine so the backing store has a
// single writer. Requests arriving within the debounce window coalesce.
type Saver struct {
	snap     func() *lab.Dataset
	store    lab.Snapshotter
	debounce time.Duration
	reqs     chan struct{}
	done     chan struct{}
	onSave   func(error)
	hold     func() bool
}

// NewSaver builds a saver that persists snap() into st.
func NewSaver(st lab.Snapshotter, snap func() *lab.Dataset, debounce time.Duration) *Saver {
	return &Saver{
		snap:     snap,
		store:    st,
		debounce: debounce,
		reqs:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// OnSave registers a callback invoked after every save attempt.
func (s *Saver) OnSave(fn func(error)) { s.onSave = fn }

// HoldWhile makes the saver skip saves while fn reports true.
func (s *Saver) HoldWhile(fn func() bool) { s.hold = fn }

// Request schedules a save without blocking.
func (s *Saver) Request() {
	select {
	case s.reqs <- struct{}{}:
	default:
	}
}

// Run drains requests until ctx is cancelled, then flushes a pending request.
func (s *Saver) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-s.reqs:
			if s.debounce > 0 {
				select {
				case <-time.After(s.debounce):
				case <-ctx.Done():
				}
			}
			s.save()
		case <-ctx.Done():
			select {
			case <-s.reqs:
				s.save()
			default:
			}
			return
		}
	}
}

// Done is closed when Run returns.
func (s *Saver) Done() <-chan struct{} { return s.done }

func (s *Saver) save() {
	if s.hold != nil && s.hold() {
		log.Println("snapshot save skipped: dataset was not loaded from storage")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.store.Save(ctx, s.snap())
	if err != nil {
		log.Printf("snapshot save failed: %v", err)
	}
	if s.onSave != nil {
		s.onSave(err)
	}
}
