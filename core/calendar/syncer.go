package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/calsync/core"
)

const (
	eventStatusActive   = "active"
	eventStatusCanceled = "canceled"

	defaultMaxSyncErrors = 20
)

type (
	SyncOptions struct {
		LookBehind             time.Duration // default window start, before now
		LookAhead              time.Duration // default window end, after now
		MaxErrors              int           // bound on SyncResult.Errors
		ReconcileCancellations bool

		// Observe, when set, is called after every SyncWindow attempt.
		Observe func(res SyncResult, took time.Duration, err error)
	}

	// SyncResult is the operator-facing summary of one poll.
	SyncResult struct {
		From           time.Time `json:"from"`
		To             time.Time `json:"to"`
		SyncedCount    int       `json:"syncedCount"`
		CancelledCount int       `json:"cancelledCount"`
		ErrorCount     int       `json:"errorCount"`
		Errors         []string  `json:"errors"`
	}

	// Syncer pulls a window of provider events through the Reconciler, compensating for missed webhooks.
	Syncer struct {
		provider   Provider
		reconciler *Reconciler
		logger     core.Logger
		opts       SyncOptions
		mu         sync.Mutex // single-flight
	}
)

func NewSyncer(provider Provider, reconciler *Reconciler, logger core.Logger, opts SyncOptions) *Syncer {
	if opts.LookBehind == 0 {
		opts.LookBehind = 24 * time.Hour
	}
	if opts.LookAhead == 0 {
		opts.LookAhead = 7 * 24 * time.Hour
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = defaultMaxSyncErrors
	}
	return &Syncer{provider: provider, reconciler: reconciler, logger: logger, opts: opts}
}

// DefaultWindow is [now - LookBehind, now + LookAhead]: yesterday through next week by default.
func (s *Syncer) DefaultWindow() (from, to time.Time) {
	now := NowFunc().UTC()
	return now.Add(-s.opts.LookBehind), now.Add(s.opts.LookAhead)
}

// Sync runs SyncWindow over the default window.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	from, to := s.DefaultWindow()
	return s.SyncWindow(ctx, from, to)
}

// SyncWindow reconciles every invitee of the events scheduled in [from, to].
// Item failures are counted and do not abort the batch; only failing to reach the provider
// at all returns an error. Returns ErrSyncInProgress if another sync is running.
func (s *Syncer) SyncWindow(ctx context.Context, from, to time.Time) (SyncResult, error) {
	started := time.Now()
	res, err := s.syncWindow(ctx, from, to)
	if s.opts.Observe != nil {
		s.opts.Observe(res, time.Since(started), err)
	}
	return res, err
}

func (s *Syncer) syncWindow(ctx context.Context, from, to time.Time) (SyncResult, error) {
	res := SyncResult{From: from.UTC(), To: to.UTC(), Errors: []string{}}
	if !to.After(from) {
		return res, core.NewValidationError(errors.New("sync window end must be after its start"))
	}
	if !s.mu.TryLock() {
		return res, ErrSyncInProgress
	}
	defer s.mu.Unlock()

	started := time.Now()
	usr, err := s.provider.CurrentUser(ctx)
	if err != nil {
		return res, errors.Wrap(err, "resolving provider user")
	}

	if err := s.syncStatus(ctx, usr, eventStatusActive, &res); err != nil {
		return res, err
	}
	if s.opts.ReconcileCancellations {
		if err := s.syncStatus(ctx, usr, eventStatusCanceled, &res); err != nil {
			return res, err
		}
	}

	s.logger.Info("calendar: sync finished", map[string]interface{}{
		"provider":  s.provider.Name(),
		"from":      res.From,
		"to":        res.To,
		"synced":    res.SyncedCount,
		"cancelled": res.CancelledCount,
		"errors":    res.ErrorCount,
		"took":      time.Since(started).String(),
	})
	return res, nil
}

func (s *Syncer) syncStatus(ctx context.Context, usr User, status string, res *SyncResult) error {
	q := EventQuery{UserURI: usr.URI, From: res.From, To: res.To, Status: status}
	for {
		page, err := s.provider.ListScheduledEvents(ctx, q)
		if err != nil {
			if q.PageToken == "" {
				return errors.Wrapf(err, "listing %s scheduled events", status)
			}
			// keep what the previous pages synced
			s.addError(res, fmt.Sprintf("listing %s scheduled events: %v", status, err))
			return nil
		}
		for _, se := range page.Events {
			if err := ctx.Err(); err != nil {
				return errors.Wrap(err, "syncing events")
			}
			s.syncEvent(ctx, se, status, res)
		}
		if page.NextPageToken == "" {
			return nil
		}
		q.PageToken = page.NextPageToken
	}
}

func (s *Syncer) syncEvent(ctx context.Context, se ScheduledEvent, status string, res *SyncResult) {
	invitees, err := s.provider.ListEventInvitees(ctx, se.URI)
	if err != nil {
		s.addError(res, fmt.Sprintf("listing invitees of %s: %v", se.URI, err))
		return
	}

	for _, inv := range invitees {
		kind := KindCreated
		if status == eventStatusCanceled || inv.Status == eventStatusCanceled {
			if !s.opts.ReconcileCancellations {
				continue
			}
			kind = KindCanceled
		}

		result, err := s.reconciler.Handle(ctx, kind, NewExternalEvent(se, inv, kind, OriginPoll))
		if err != nil {
			s.addError(res, fmt.Sprintf("%s %s: %v", kind, inv.URI, err))
			continue
		}
		if result.Mutated() {
			if kind == KindCanceled {
				res.CancelledCount++
			} else {
				res.SyncedCount++
			}
		}
	}
}

func (s *Syncer) addError(res *SyncResult, msg string) {
	res.ErrorCount++
	if len(res.Errors) < s.opts.MaxErrors {
		res.Errors = append(res.Errors, msg)
	}
	s.logger.Warn("calendar: sync item failed", map[string]interface{}{"provider": s.provider.Name(), "error": msg})
}

// Run syncs every interval until ctx is done. Overlapping runs are skipped.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil {
				if errors.Is(err, ErrSyncInProgress) {
					s.logger.Warn("calendar: scheduled sync skipped, " + err.Error())
					continue
				}
				s.logger.Error("calendar: scheduled sync failed", errors.Wrap(err, "scheduled sync"))
			}
		}
	}
}
