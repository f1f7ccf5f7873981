// Package journal persists creature encounter events and session snapshots.
package journal

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kasuganosora/corrosion/model"
	"github.com/kasuganosora/corrosion/plugin/hook"
)

// Events are the hook events written to the journal.
var Events = []string{
	hook.OnStateChange,
	hook.OnPlayerSpotted,
	hook.OnPlayerKilled,
	hook.OnPlayerPushed,
	hook.OnKillInterrupted,
	hook.OnPocketEnter,
	hook.OnPocketRoom,
	hook.OnPocketEscape,
	hook.OnPocketDeath,
}

// hookPriority runs the journal after plugins that may veto or rewrite.
const hookPriority = 1000

// Service logs encounters asynchronously in batches.
type Service struct {
	db      *gorm.DB
	ch      chan *model.Encounter
	stopCh  chan struct{}
	wg      sync.WaitGroup
	logger  *zap.Logger
	batch   int
	dropped atomic.Int64
	written atomic.Int64
}

// New creates a journal Service and starts its background worker. batch is
// the number of entries that forces an early flush.
func New(db *gorm.DB, logger *zap.Logger, batch int) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batch <= 0 {
		batch = 100
	}
	svc := &Service{
		db:     db,
		ch:     make(chan *model.Encounter, 1024),
		stopCh: make(chan struct{}),
		logger: logger,
		batch:  batch,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Attach registers the journal on every encounter event of hc.
func (svc *Service) Attach(hc *hook.HookCenter) {
	for _, ev := range Events {
		hc.Register(ev, hookPriority, "journal", svc.handle)
	}
}

func (svc *Service) handle(_ context.Context, event string, data any) (any, error) {
	if ev, ok := data.(hook.Event); ok {
		svc.Record(event, ev)
	}
	return data, nil
}

// Record enqueues an encounter for async DB write. It never blocks the
// session goroutine; entries are dropped when the queue is full.
func (svc *Service) Record(event string, ev hook.Event) {
	var detail datatypes.JSON
	if len(ev.Detail) > 0 {
		b, err := json.Marshal(ev.Detail)
		if err != nil {
			svc.logger.Warn("journal detail not encodable", zap.String("event", event), zap.Error(err))
		} else {
			detail = datatypes.JSON(b)
		}
	}
	record := &model.Encounter{
		EventID:   uuid.NewString(),
		SessionID: ev.Session,
		NodeID:    ev.Node,
		Event:     event,
		Player:    ev.Player,
		State:     ev.State,
		SimMs:     ev.SimMs,
		Detail:    detail,
	}
	select {
	case svc.ch <- record:
	default:
		svc.dropped.Add(1)
		svc.logger.Warn("journal channel full, dropping entry",
			zap.String("event", event))
	}
}

// Stats reports how many entries were written and dropped.
func (svc *Service) Stats() (written, dropped int64) {
	return svc.written.Load(), svc.dropped.Load()
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	select {
	case <-svc.stopCh:
	default:
		close(svc.stopCh)
	}
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	batch := make([]*model.Encounter, 0, svc.batch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("journal batch write failed", zap.Int("size", len(batch)), zap.Error(err))
		} else {
			svc.written.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= svc.batch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Query filters journal reads. Zero fields match everything.
type Query struct {
	SessionID string
	Event     string
	Player    int
	Limit     int
}

// Recent returns the newest encounters matching q.
func (svc *Service) Recent(ctx context.Context, q Query) ([]model.Encounter, error) {
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	tx := svc.db.WithContext(ctx).Model(&model.Encounter{})
	if q.SessionID != "" {
		tx = tx.Where("session_id = ?", q.SessionID)
	}
	if q.Event != "" {
		tx = tx.Where("event = ?", q.Event)
	}
	if q.Player > 0 {
		tx = tx.Where("player = ?", q.Player)
	}
	var out []model.Encounter
	err := tx.Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}

// Count returns the number of journaled events per event name for a session.
func (svc *Service) Count(ctx context.Context, sessionID string) (map[string]int64, error) {
	var rows []struct {
		Event string
		N     int64
	}
	err := svc.db.WithContext(ctx).Model(&model.Encounter{}).
		Select("event, COUNT(*) AS n").
		Where("session_id = ?", sessionID).
		Group("event").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Event] = r.N
	}
	return out, nil
}
