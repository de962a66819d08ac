package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("ledger")

// Options tunes the append path.
type Options struct {
	// MaxRetries bounds the retries after a lost compare-and-append race.
	MaxRetries uint64
	// InitialInterval and MaxInterval shape the exponential backoff between retries.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Clock supplies append timestamps. Defaults to time.Now.
	Clock   func() time.Time
	Metrics *Metrics
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		MaxRetries:      8,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     250 * time.Millisecond,
		Clock:           time.Now,
	}
}

// Service is the only component allowed to write ledger entries.
type Service struct {
	store Store
	opts  Options

	// mu is the append lock; it serializes producers within this process.
	mu sync.Mutex

	subMu  sync.RWMutex
	subs   map[string]chan Entry
	closed bool
}

// NewService creates a ledger service on top of store.
func NewService(store Store, opts Options) *Service {
	defaults := DefaultOptions()
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaults.InitialInterval
	}
	if opts.MaxInterval < opts.InitialInterval {
		opts.MaxInterval = opts.InitialInterval
	}
	if opts.Clock == nil {
		opts.Clock = defaults.Clock
	}
	return &Service{
		store: store,
		opts:  opts,
		subs:  make(map[string]chan Entry),
	}
}

// Append records an event as the new chain head and returns the stored entry.
//
// Successful appends are linearizable: each extends exactly the head it
// observed. When another writer keeps winning the race for the head,
// Append gives up with ErrContentionExceeded and nothing is written.
func (s *Service) Append(ctx context.Context, ev Event) (Entry, error) {
	ev = ev.normalize()
	if err := ev.Validate(); err != nil {
		s.opts.Metrics.observeFailure("invalid")
		return Entry{}, err
	}

	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		appended Entry
		attempts int
	)
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++

		head, err := s.store.Head(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}

		entry := Entry{
			EntityType:   ev.EntityType,
			EntityID:     ev.EntityID,
			Action:       ev.Action,
			Metadata:     ev.Metadata,
			CreatedAt:    s.timestamp(head),
			PreviousHash: head.Hash,
		}
		entry.Hash = entry.ComputeHash()

		id, err := s.store.AppendIfHeadIs(ctx, head.ID, head.Hash, entry)
		if errors.Is(err, ErrHeadConflict) {
			s.opts.Metrics.observeConflict()
			log.Debugf("Head moved past %d during append (attempt %d)", head.ID, attempts)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}

		entry.ID = id
		appended = entry
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.opts.MaxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		switch {
		case errors.Is(err, ErrHeadConflict):
			s.opts.Metrics.observeFailure("contention")
			log.Warnf("Giving up on %s/%d %s after %d attempts", ev.EntityType, ev.EntityID, ev.Action, attempts)
			return Entry{}, fmt.Errorf("%w: %d attempts", ErrContentionExceeded, attempts)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.opts.Metrics.observeFailure("canceled")
		default:
			s.opts.Metrics.observeFailure("store")
		}
		return Entry{}, fmt.Errorf("failed to append %s/%d %s: %w", ev.EntityType, ev.EntityID, ev.Action, err)
	}

	s.opts.Metrics.observeAppend(appended.EntityType, time.Since(start))
	log.Debugf("Ledger: #%d %s/%d %s %s", appended.ID, appended.EntityType, appended.EntityID, appended.Action, appended.Hash)
	s.publish(appended)
	return appended, nil
}

// timestamp returns a millisecond-precision time no earlier than the head's,
// so createdAt order always matches chain order.
func (s *Service) timestamp(head Head) time.Time {
	now := s.opts.Clock().UTC().Truncate(time.Millisecond)
	if now.Before(head.CreatedAt) {
		return head.CreatedAt.UTC()
	}
	return now
}

func (s *Service) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval
	b.MaxInterval = s.opts.MaxInterval
	b.MaxElapsedTime = 0
	return b
}

// Head returns the current chain head.
func (s *Service) Head(ctx context.Context) (Head, error) {
	return s.store.Head(ctx)
}

// Entries returns the full history in chain order.
func (s *Service) Entries(ctx context.Context) ([]Entry, error) {
	return s.store.List(ctx, ListOptions{})
}

// Query returns a filtered page of the history.
func (s *Service) Query(ctx context.Context, opts ListOptions) ([]Entry, error) {
	return s.store.List(ctx, opts)
}

// Latest returns the newest entry, or nil if the ledger is empty.
func (s *Service) Latest(ctx context.Context) (*Entry, error) {
	entries, err := s.store.List(ctx, ListOptions{Order: Descending, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// Verify checks the whole chain, anchored at GenesisHash.
func (s *Service) Verify(ctx context.Context) (Report, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return Report{}, err
	}
	report := Verifier{Anchor: GenesisHash}.Verify(entries)
	s.opts.Metrics.observeVerify(report, time.Now())
	return report, nil
}

// SelfCheck verifies the chain and logs every finding. Broken history never
// stops the ledger from accepting new entries.
func (s *Service) SelfCheck(ctx context.Context) (Report, error) {
	report, err := s.Verify(ctx)
	if err != nil {
		log.Warnf("Ledger self-check could not read entries: %v", err)
		return report, err
	}
	if report.Valid {
		log.Infof("Ledger chain verified: %d entries, integrity OK", report.Checked)
		return report, nil
	}
	for _, b := range report.Breaks {
		log.Errorf("Ledger %s at entry %d: expected %s, got %s", b.Kind, b.EntryID, b.Expected, b.Actual)
	}
	log.Errorf("Ledger tampering detected: %d breaks in %d entries", len(report.Breaks), report.Checked)
	return report, nil
}

// RunSelfCheck runs SelfCheck every interval until ctx is done.
func (s *Service) RunSelfCheck(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SelfCheck(ctx)
		}
	}
}

// Subscribe returns a channel receiving every entry appended from now on and
// a function that cancels the subscription. A subscriber whose buffer is full
// when an entry is published is cancelled: its channel is closed after the
// entries already buffered, so it never sees a gap, only an end.
func (s *Service) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	id := uuid.NewString()
	ch := make(chan Entry, buffer)

	s.subMu.Lock()
	if s.closed {
		close(ch)
	} else {
		s.subs[id] = ch
	}
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
			s.subMu.Unlock()
		})
	}
	return ch, cancel
}

func (s *Service) publish(e Entry) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- e:
		default:
			delete(s.subs, id)
			close(ch)
			log.Warnf("Subscriber %s fell behind at entry %d, subscription cancelled", id, e.ID)
		}
	}
}

// Closed reports whether Close has been called.
func (s *Service) Closed() bool {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return s.closed
}

// Close ends all subscriptions. The store is owned by the caller.
func (s *Service) Close() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
