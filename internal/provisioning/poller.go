package provisioning

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"VPN-Shop-bot/internal/db"
)

// Tracker is the part of Service the poller drives.
type Tracker interface {
	Poll(ctx context.Context, c *db.Connection) (*db.Connection, error)
	MarkFailed(ctx context.Context, id uint, reason string) (*db.Connection, bool, error)
	ListUnfinished(ctx context.Context) ([]db.Connection, error)
}

// TerminalFunc is called once a connection leaves the in-progress states.
type TerminalFunc func(ctx context.Context, c *db.Connection)

type PollerConfig struct {
	Interval    time.Duration
	MaxAttempts int // 0 polls until a terminal state
	OnTerminal  TerminalFunc
}

type job struct {
	cancel context.CancelFunc
	gen    uint64
}

// Poller runs one background loop per in-progress connection.
// Cancelling a loop stops further checks and leaves the stored status as it is.
type Poller struct {
	tracker Tracker
	cfg     PollerConfig
	log     *zap.Logger

	base   context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	jobs   map[uint]job
	gen    uint64
	wg     sync.WaitGroup
	closed bool
}

func NewPoller(tracker Tracker, cfg PollerConfig, log *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Poller{
		tracker: tracker,
		cfg:     cfg,
		log:     log,
		base:    base,
		stop:    stop,
		jobs:    make(map[uint]job),
	}
}

// Start begins polling c. It returns false if c is already polled, terminal or the poller is shut down.
func (p *Poller) Start(c *db.Connection) bool {
	if c == nil || Terminal(c.Status) {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if _, ok := p.jobs[c.ID]; ok {
		return false
	}
	p.gen++
	ctx, cancel := context.WithCancel(p.base)
	p.jobs[c.ID] = job{cancel: cancel, gen: p.gen}
	p.wg.Add(1)
	go p.run(ctx, *c, p.gen)
	return true
}

// Stop cancels the loop of one connection.
func (p *Poller) Stop(id uint) {
	p.mu.Lock()
	j, ok := p.jobs[id]
	if ok {
		delete(p.jobs, id)
	}
	p.mu.Unlock()
	if ok {
		j.cancel()
	}
}

// Running lists connection ids with an active loop.
func (p *Poller) Running() []uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]uint, 0, len(p.jobs))
	for id := range p.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Resume starts loops for every connection left in progress, e.g. after a restart.
func (p *Poller) Resume(ctx context.Context) (int, error) {
	conns, err := p.tracker.ListUnfinished(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range conns {
		if p.Start(&conns[i]) {
			n++
		}
	}
	return n, nil
}

// Shutdown cancels all loops and waits for them to return or for ctx to end.
func (p *Poller) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.jobs = make(map[uint]job)
	p.mu.Unlock()
	p.stop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) run(ctx context.Context, c db.Connection, gen uint64) {
	defer p.wg.Done()
	defer p.release(c.ID, gen)

	log := p.log.With(zap.Uint("connection_id", c.ID), zap.Uint("order_id", c.OrderID))
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	cur := &c
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		next, err := p.tracker.Poll(ctx, cur)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn("poll failed", zap.String("task_id", cur.TaskID), zap.Error(err))
			cur.PollAttempts++
		} else {
			cur = next
		}

		if Terminal(cur.Status) {
			log.Info("provisioning finished", zap.String("status", cur.Status))
			p.terminal(ctx, cur)
			return
		}
		if p.cfg.MaxAttempts > 0 && cur.PollAttempts >= p.cfg.MaxAttempts {
			failed, changed, err := p.tracker.MarkFailed(ctx, cur.ID, "gave up waiting for the master node")
			if err != nil {
				log.Error("give up failed", zap.Error(err))
				return
			}
			log.Warn("provisioning abandoned", zap.Int("attempts", cur.PollAttempts))
			if changed {
				p.terminal(ctx, failed)
			}
			return
		}
	}
}

func (p *Poller) terminal(ctx context.Context, c *db.Connection) {
	if p.cfg.OnTerminal != nil {
		p.cfg.OnTerminal(ctx, c)
	}
}

func (p *Poller) release(id uint, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if j, ok := p.jobs[id]; ok && j.gen == gen {
		j.cancel()
		delete(p.jobs, id)
	}
}
