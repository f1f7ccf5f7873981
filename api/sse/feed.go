package sse

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/cache"
	"github.com/kasuganosora/corrosion/plugin/hook"
)

// feedPriority runs after the journal.
const feedPriority = 1100

// Topic is the pub/sub channel carrying a session's encounter feed.
func Topic(sessionID string) string { return "corrosion:" + sessionID + ":feed" }

// Entry is one streamed encounter.
type Entry struct {
	Name string `json:"event"`
	hook.Event
}

// Feed relays hook events to pub/sub off the session goroutine.
type Feed struct {
	ps      cache.PubSub
	ch      chan Entry
	logger  *zap.Logger
	dropped atomic.Int64
}

// NewFeed creates a Feed. Call Run to start publishing.
func NewFeed(ps cache.PubSub, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{ps: ps, ch: make(chan Entry, 256), logger: logger}
}

// Attach registers the feed on every event in events.
func (f *Feed) Attach(hc *hook.HookCenter, events []string) {
	for _, ev := range events {
		hc.Register(ev, feedPriority, "sse_feed", f.handle)
	}
}

func (f *Feed) handle(_ context.Context, event string, data any) (any, error) {
	ev, ok := data.(hook.Event)
	if !ok {
		return data, nil
	}
	select {
	case f.ch <- Entry{Name: event, Event: ev}:
	default:
		f.dropped.Add(1)
	}
	return data, nil
}

// Dropped returns the number of entries lost to a full queue.
func (f *Feed) Dropped() int64 { return f.dropped.Load() }

// Run publishes queued entries until ctx is done.
func (f *Feed) Run(ctx context.Context) {
	for {
		select {
		case e := <-f.ch:
			body, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if err := f.ps.Publish(ctx, Topic(e.Session), string(body)); err != nil {
				f.logger.Warn("feed publish failed", zap.String("event", e.Name), zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
