// internal/historian/historian.go is an asynchronous historian service that pops room action
// records from a queue and persists them in batches.
package historian

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rag2504/tambola/internal/models"
	"github.com/sirupsen/logrus"
)

// Source yields queued action records. ok is false when wait elapsed with nothing queued.
type Source interface {
	Pop(ctx context.Context, wait time.Duration) (rec models.ActionRecord, ok bool, err error)
}

// Sink persists a batch of records in one transaction.
type Sink interface {
	InsertRoomActions(ctx context.Context, recs []models.ActionRecord) error
}

// Config tunes batching and idle detection.
type Config struct {
	BatchSize  int
	FlushDelay time.Duration
	// PopWait bounds each blocking pop so cancellation and flushes are noticed.
	PopWait time.Duration
	// Inactivity is how long a room may go without actions before it is reported idle.
	Inactivity time.Duration
}

// terminalActions end a room's history; idle tracking stops for them.
var terminalActions = map[string]bool{
	"game_complete": true,
	"game_cancel":   true,
}

// Service drains a Source into a Sink.
type Service struct {
	src  Source
	sink Sink
	cfg  Config
	log  logrus.FieldLogger

	lastActivity sync.Map // map[uuid.UUID]time.Time

	batchMu sync.Mutex
	batch   []models.ActionRecord
}

// New returns a Service with defaults applied to zero config fields.
func New(src Source, sink Sink, cfg Config, log logrus.FieldLogger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = 500 * time.Millisecond
	}
	if cfg.PopWait <= 0 {
		cfg.PopWait = 3 * time.Second
	}
	if cfg.Inactivity <= 0 {
		cfg.Inactivity = 10 * time.Minute
	}
	return &Service{
		src:   src,
		sink:  sink,
		cfg:   cfg,
		log:   log.WithField("component", "historian"),
		batch: make([]models.ActionRecord, 0, cfg.BatchSize),
	}
}

// Run reads until ctx is cancelled, then flushes what is left.
func (hs *Service) Run(ctx context.Context) {
	hs.log.Info("historian started")
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		hs.flushLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		hs.inactivityLoop(ctx)
	}()

	hs.readLoop(ctx)
	wg.Wait()

	hs.flush(context.WithoutCancel(ctx))
	hs.log.Info("historian stopped")
}

func (hs *Service) readLoop(ctx context.Context) {
	for ctx.Err() == nil {
		rec, ok, err := hs.src.Pop(ctx, hs.cfg.PopWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			hs.log.WithError(err).Error("pop action")
			// back off so a dead queue does not spin
			select {
			case <-ctx.Done():
			case <-time.After(hs.cfg.FlushDelay):
			}
			continue
		}
		if !ok {
			continue
		}
		hs.track(rec)
		hs.append(ctx, rec)
	}
}

func (hs *Service) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(hs.cfg.FlushDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hs.flush(ctx)
		}
	}
}

func (hs *Service) track(rec models.ActionRecord) {
	if terminalActions[rec.ActionType] {
		hs.lastActivity.Delete(rec.RoomID)
		return
	}
	hs.lastActivity.Store(rec.RoomID, time.Now())
}

// append adds a record to the batch and flushes once the batch is full.
func (hs *Service) append(ctx context.Context, rec models.ActionRecord) {
	hs.batchMu.Lock()
	hs.batch = append(hs.batch, rec)
	full := len(hs.batch) >= hs.cfg.BatchSize
	hs.batchMu.Unlock()
	if full {
		hs.flush(ctx)
	}
}

// flush writes the pending batch. A failed batch is put back in front of newer records.
func (hs *Service) flush(ctx context.Context) {
	hs.batchMu.Lock()
	defer hs.batchMu.Unlock()
	if len(hs.batch) == 0 {
		return
	}
	pending := make([]models.ActionRecord, len(hs.batch))
	copy(pending, hs.batch)

	if err := hs.sink.InsertRoomActions(ctx, pending); err != nil {
		hs.log.WithError(err).WithField("actions", len(pending)).Error("flush batch")
		return
	}
	hs.batch = hs.batch[:0]
	hs.log.WithField("actions", len(pending)).Debug("flushed batch")
}

func (hs *Service) inactivityLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			hs.reportIdle(now)
		}
	}
}

// reportIdle logs and forgets rooms with no actions for longer than the inactivity window.
func (hs *Service) reportIdle(now time.Time) []uuid.UUID {
	var idle []uuid.UUID
	hs.lastActivity.Range(func(key, val any) bool {
		roomID, ok1 := key.(uuid.UUID)
		last, ok2 := val.(time.Time)
		if ok1 && ok2 && now.Sub(last) > hs.cfg.Inactivity {
			idle = append(idle, roomID)
			hs.lastActivity.Delete(roomID)
			hs.log.WithFields(logrus.Fields{"room": roomID, "last_action": last}).Warn("room idle")
		}
		return true
	})
	return idle
}

// Pending reports how many records are waiting to be flushed.
func (hs *Service) Pending() int {
	hs.batchMu.Lock()
	defer hs.batchMu.Unlock()
	return len(hs.batch)
}
