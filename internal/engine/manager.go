package engine

import (
	"context"
	"fmt"
	"sync"

	"trade_engine/internal/modules/config"
	feedsvc "trade_engine/internal/modules/feed/service"
	healthsvc "trade_engine/internal/modules/health/service"
	"trade_engine/internal/notify"
	"trade_engine/pkg/logger"
)

// Manager управляет раннерами по символам: один раннер на символ.
type Manager struct {
	cfg      *config.Config
	feed     *feedsvc.Client
	repo     Recorder
	notifier notify.Notifier
	health   *healthsvc.State

	mu      sync.Mutex
	runners map[string]*runnerHandle
	wg      sync.WaitGroup
}

type runnerHandle struct {
	runner *Runner
	cancel context.CancelFunc
}

func NewManager(cfg *config.Config, feed *feedsvc.Client, repo Recorder, notifier notify.Notifier, health *healthsvc.State) *Manager {
	return &Manager{
		cfg:      cfg,
		feed:     feed,
		repo:     repo,
		notifier: notifier,
		health:   health,
		runners:  make(map[string]*runnerHandle),
	}
}

// RunAll стартует раннер на каждый символ из конфига.
func (m *Manager) RunAll(ctx context.Context) {
	for _, symbol := range m.cfg.Symbols {
		if err := m.Run(ctx, symbol); err != nil {
			logger.Error("[MANAGER] %v", err)
		}
	}
}

// Run стартует воркер для конкретного символа (если ещё не запущен).
func (m *Manager) Run(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.runners[symbol]; running {
		return fmt.Errorf("runner already running for %s", symbol)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := NewRunner(m.cfg, symbol, m.feed, m.repo, m.notifier, m.health)
	m.runners[symbol] = &runnerHandle{runner: r, cancel: cancel}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := r.Start(runCtx); err != nil {
			logger.Error("[MANAGER] runner %s stopped: %v", symbol, err)
		}

		// когда Start закончится — выпилим раннер из мапы
		m.mu.Lock()
		delete(m.runners, symbol)
		m.mu.Unlock()
	}()

	logger.Info("[MANAGER] runner started for %s", symbol)
	return nil
}

// Stop останавливает воркер для конкретного символа (если запущен).
func (m *Manager) Stop(symbol string) error {
	m.mu.Lock()
	h, ok := m.runners[symbol]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("runner not running for %s", symbol)
	}
	delete(m.runners, symbol)
	m.mu.Unlock()

	// гасим вне мьютекса: Start дочистит позицию и сессию сам
	h.cancel()
	return nil
}

// StopAll гасит все раннеры и ЖДЁТ, пока каждый закроет позицию
// и допишет сессию. Вызывается из fx OnStop синхронно.
func (m *Manager) StopAll() {
	m.mu.Lock()
	for _, h := range m.runners {
		h.cancel()
	}
	m.mu.Unlock()

	m.wg.Wait()
	logger.Info("[MANAGER] all runners stopped")
}
