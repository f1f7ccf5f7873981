package replication

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/cache"
	"github.com/kasuganosora/corrosion/game/clock"
)

// Config describes one node's view of a session's channel.
type Config struct {
	SessionID   string
	NodeID      string
	Authority   bool
	MaxPending  int
	HistorySize int
	OutboxSize  int
	Clock       clock.Clock
}

type outMsg struct {
	topic   string
	body    string
	history bool
}

// Channel is the replicated command stream of one session. Broadcast,
// Receive and the apply callback run on the session goroutine; Propose may be
// called from any goroutine.
type Channel struct {
	cfg    Config
	ps     cache.PubSub
	store  cache.Cache
	logger *zap.Logger

	authority atomic.Bool

	mu      sync.Mutex
	enqueue func(func())

	seq     uint64
	pending map[uint64]Command

	apply      func(Command)
	onProposal func(Proposal)
	onPromote  []func()

	backfilling atomic.Bool
	outbox      chan outMsg
	cancels     []func()
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	started     bool
}

// NewChannel creates a channel. ps and store may be nil for a single-node
// session, in which case commands are applied locally only.
func NewChannel(cfg Config, ps cache.PubSub, store cache.Cache, logger *zap.Logger) *Channel {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 64
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 256
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Channel{
		cfg:     cfg,
		ps:      ps,
		store:   store,
		logger:  logger.With(zap.String("session", cfg.SessionID), zap.String("node", cfg.NodeID)),
		pending: make(map[uint64]Command),
		apply:   func(Command) {},
		outbox:  make(chan outMsg, cfg.OutboxSize),
		stopCh:  make(chan struct{}),
	}
	c.authority.Store(cfg.Authority)
	return c
}

// OnApply sets the callback invoked for every command, in sequence order.
func (c *Channel) OnApply(fn func(Command)) { c.apply = fn }

// OnProposal sets the authority-side proposal handler.
func (c *Channel) OnProposal(fn func(Proposal)) { c.onProposal = fn }

// OnPromote adds a callback run by Promote once this node decides. It runs
// on the caller's goroutine, which must be the session goroutine.
func (c *Channel) OnPromote(fn func()) { c.onPromote = append(c.onPromote, fn) }

// IsAuthority reports whether this node decides.
func (c *Channel) IsAuthority() bool { return c.authority.Load() }

// SessionID returns the session this channel belongs to.
func (c *Channel) SessionID() string { return c.cfg.SessionID }

// NodeID returns this node's id.
func (c *Channel) NodeID() string { return c.cfg.NodeID }

// LastSeq returns the last issued (authority) or applied (replica) sequence.
func (c *Channel) LastSeq() uint64 { return c.seq }

// Pending returns the number of buffered out-of-order commands.
func (c *Channel) Pending() int { return len(c.pending) }

// Start subscribes to the session topics. enqueue must run the given func on
// the session goroutine.
func (c *Channel) Start(ctx context.Context, enqueue func(func())) error {
	c.mu.Lock()
	c.enqueue = enqueue
	c.started = true
	c.mu.Unlock()
	if c.ps == nil {
		return nil
	}
	msgs, cancel, err := c.ps.Subscribe(ctx, CommandTopic(c.cfg.SessionID), ProposalTopic(c.cfg.SessionID))
	if err != nil {
		return err
	}
	c.cancels = append(c.cancels, cancel)

	c.wg.Add(2)
	go c.publishLoop(ctx)
	go c.receiveLoop(ctx, msgs)

	if !c.IsAuthority() {
		c.requestBackfill(ctx)
	}
	c.logger.Info("replication channel started", zap.Bool("authority", c.IsAuthority()))
	return nil
}

// Stop unsubscribes and flushes the outbox. Safe to call more than once.
func (c *Channel) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		for _, cancel := range c.cancels {
			cancel()
		}
		c.wg.Wait()
	})
}

// Promote turns this node into the authority, continuing from the last
// applied sequence.
func (c *Channel) Promote() {
	if c.authority.Swap(true) {
		return
	}
	c.pending = make(map[uint64]Command)
	c.logger.Info("promoted to authority", zap.Uint64("seq", c.seq))
	for _, fn := range c.onPromote {
		fn()
	}
}

// Demote turns this node into a replica.
func (c *Channel) Demote() {
	if c.authority.Swap(false) {
		c.logger.Warn("demoted to replica", zap.Uint64("seq", c.seq))
	}
}

// Resync adopts seq as the last applied command, used after loading a
// snapshot. Buffered commands at or below seq are discarded.
func (c *Channel) Resync(seq uint64) {
	c.seq = seq
	for s := range c.pending {
		if s <= seq {
			delete(c.pending, s)
		}
	}
	c.drain()
}

// Broadcast assigns the next sequence number, publishes the command and
// applies it locally before returning.
func (c *Channel) Broadcast(kind Kind, payload any) (Command, error) {
	if !c.IsAuthority() {
		return Command{}, ErrNotAuthority
	}
	raw, err := encode(payload)
	if err != nil {
		return Command{}, err
	}
	c.seq++
	cmd := Command{
		Seq:     c.seq,
		Session: c.cfg.SessionID,
		Origin:  c.cfg.NodeID,
		Kind:    kind,
		Payload: raw,
	}
	if c.cfg.Clock != nil {
		cmd.At = c.cfg.Clock.Now().Milliseconds()
	}
	c.send(CommandTopic(c.cfg.SessionID), cmd, true)
	c.apply(cmd)
	return cmd, nil
}

// Receive feeds a command from the wire. Duplicates are dropped, gaps are
// buffered until filled or until the buffer overflows.
func (c *Channel) Receive(cmd Command) {
	if c.IsAuthority() {
		return
	}
	if cmd.Session != "" && cmd.Session != c.cfg.SessionID {
		return
	}
	if cmd.Seq <= c.seq {
		c.logger.Debug("duplicate command dropped", zap.Uint64("seq", cmd.Seq))
		return
	}
	if cmd.Seq == c.seq+1 {
		c.deliver(cmd)
		c.drain()
		return
	}
	c.pending[cmd.Seq] = cmd
	if len(c.pending) <= c.cfg.MaxPending {
		c.requestBackfill(context.Background())
		return
	}
	lowest := cmd.Seq
	for s := range c.pending {
		if s < lowest {
			lowest = s
		}
	}
	c.logger.Warn("command gap skipped",
		zap.Uint64("from", c.seq+1),
		zap.Uint64("to", lowest-1))
	c.seq = lowest - 1
	c.drain()
}

// Propose sends an observation to the authority. On the authority itself
// the proposal is queued onto the session goroutine.
func (c *Channel) Propose(kind ProposalKind, payload any) error {
	raw, err := encode(payload)
	if err != nil {
		return err
	}
	p := Proposal{From: c.cfg.NodeID, Session: c.cfg.SessionID, Kind: kind, Payload: raw}
	if c.IsAuthority() {
		c.run(func() { c.handleProposal(p) })
		return nil
	}
	select {
	case <-c.stopCh:
		return ErrClosed
	default:
	}
	c.send(ProposalTopic(c.cfg.SessionID), p, false)
	return nil
}

func (c *Channel) handleProposal(p Proposal) {
	if !c.IsAuthority() || c.onProposal == nil {
		return
	}
	c.onProposal(p)
}

func (c *Channel) deliver(cmd Command) {
	c.seq = cmd.Seq
	c.apply(cmd)
}

func (c *Channel) drain() {
	for {
		next, ok := c.pending[c.seq+1]
		if !ok {
			return
		}
		delete(c.pending, next.Seq)
		c.deliver(next)
	}
}

func (c *Channel) run(fn func()) {
	c.mu.Lock()
	enqueue := c.enqueue
	c.mu.Unlock()
	if enqueue == nil {
		fn()
		return
	}
	enqueue(fn)
}

func (c *Channel) send(topic string, v any, history bool) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started || c.ps == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("encode outbound message", zap.Error(err))
		return
	}
	select {
	case c.outbox <- outMsg{topic: topic, body: string(b), history: history}:
	default:
		c.logger.Error("replication outbox full, message dropped", zap.String("topic", topic))
	}
}

func (c *Channel) publishLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case m := <-c.outbox:
			c.publish(ctx, m)
		case <-c.stopCh:
			for {
				select {
				case m := <-c.outbox:
					c.publish(context.Background(), m)
				default:
					return
				}
			}
		}
	}
}

func (c *Channel) publish(ctx context.Context, m outMsg) {
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.ps.Publish(pctx, m.topic, m.body); err != nil {
		c.logger.Warn("publish failed", zap.String("topic", m.topic), zap.Error(err))
	}
	if !m.history || c.store == nil {
		return
	}
	key := HistoryKey(c.cfg.SessionID)
	if err := c.store.LPush(pctx, key, m.body); err != nil {
		c.logger.Warn("history append failed", zap.Error(err))
		return
	}
	_ = c.store.LTrim(pctx, key, 0, int64(c.cfg.HistorySize-1))
}

func (c *Channel) receiveLoop(ctx context.Context, msgs <-chan *cache.Message) {
	defer c.wg.Done()
	cmdTopic := CommandTopic(c.cfg.SessionID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			if m.Channel == cmdTopic {
				var cmd Command
				if err := json.Unmarshal([]byte(m.Payload), &cmd); err != nil {
					c.logger.Warn("bad command", zap.Error(err))
					continue
				}
				if cmd.Origin == c.cfg.NodeID {
					continue
				}
				c.run(func() { c.Receive(cmd) })
				continue
			}
			var p Proposal
			if err := json.Unmarshal([]byte(m.Payload), &p); err != nil {
				c.logger.Warn("bad proposal", zap.Error(err))
				continue
			}
			c.run(func() { c.handleProposal(p) })
		}
	}
}

// requestBackfill replays the recent command history. Commands already
// applied are dropped by Receive.
func (c *Channel) requestBackfill(ctx context.Context) {
	if c.store == nil || !c.backfilling.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.backfilling.Store(false)
		lctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		raw, err := c.store.LRange(lctx, HistoryKey(c.cfg.SessionID), 0, -1)
		if err != nil {
			c.logger.Warn("history fetch failed", zap.Error(err))
			return
		}
		cmds := make([]Command, 0, len(raw))
		for _, s := range raw {
			var cmd Command
			if json.Unmarshal([]byte(s), &cmd) == nil {
				cmds = append(cmds, cmd)
			}
		}
		if len(cmds) == 0 {
			return
		}
		sort.Slice(cmds, func(i, j int) bool { return cmds[i].Seq < cmds[j].Seq })
		c.run(func() {
			for _, cmd := range cmds {
				c.Receive(cmd)
			}
		})
	}()
}
