package service

import (
	"sync/atomic"
	"time"
)

// State — то, что отдаём в /readyz и /healthz. Пишут раннеры,
// читает HTTP-хендлер, поэтому всё на атомиках.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	feedConnected atomic.Bool
	lastBarUnix   atomic.Int64 // unix seconds последнего закрытого бара
	openPositions atomic.Int64
	tradesClosed  atomic.Int64
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetFeedConnected(v bool) { s.feedConnected.Store(v) }
func (s *State) FeedConnected() bool     { return s.feedConnected.Load() }

func (s *State) TouchBar(t time.Time) { s.lastBarUnix.Store(t.Unix()) }
func (s *State) LastBar() time.Time {
	u := s.lastBarUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) PositionOpened() { s.openPositions.Add(1) }
func (s *State) PositionClosed() {
	s.openPositions.Add(-1)
	s.tradesClosed.Add(1)
}
func (s *State) OpenPositions() int64 { return s.openPositions.Load() }
func (s *State) TradesClosed() int64  { return s.tradesClosed.Load() }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
