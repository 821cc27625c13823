package engine

import (
	"context"
	"fmt"
	"time"

	"trade_engine/internal/buffer"
	"trade_engine/internal/helper"
	"trade_engine/internal/lifecycle"
	"trade_engine/internal/ltf"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	feedsvc "trade_engine/internal/modules/feed/service"
	healthsvc "trade_engine/internal/modules/health/service"
	"trade_engine/internal/notify"
	"trade_engine/internal/risk"
	"trade_engine/internal/sizing"
	"trade_engine/internal/strategy"
	"trade_engine/pkg/logger"

	"github.com/opentracing/opentracing-go"
)

// Recorder — узкий контракт персистентности, всё что ядру нужно от БД.
type Recorder interface {
	InsertSession(ctx context.Context, s *models.SessionRecord) error
	UpdateSession(ctx context.Context, s *models.SessionRecord) error
	InsertTrade(ctx context.Context, t *models.TradeRecord) error
	UpdateTradeByTradeID(ctx context.Context, t *models.TradeRecord) error
	GetTradesBySessionID(ctx context.Context, sessionID string) ([]models.TradeRecord, error)
}

// Runner — вся обработка одного символа: фид, буферы, скорер, LTF,
// риск, сайзер, lifecycle. Единственный потребитель событий фида,
// поэтому бары обрабатываются строго по порядку и без локов.
type Runner struct {
	cfg    *config.Config
	symbol string

	feed     *feedsvc.Client
	repo     Recorder
	notifier notify.Notifier
	health   *healthsvc.State

	buf    *buffer.Buffer // старший ТФ, решения
	ltfBuf *buffer.Buffer // младший ТФ, подтверждения

	scorer    strategy.Scorer
	life      *lifecycle.Manager
	riskMgr   *risk.Manager
	sizer     *sizing.Sizer
	ltfEngine *ltf.Engine

	session models.SessionRecord
	pos     models.OpenPosition
	trade   *models.TradeRecord
	setup   *models.LTFSetup

	lastPrice float64
	tradeSeq  int

	// статистика для Келли
	wins, losses      int
	sumWinR, sumLossR float64
}

func NewRunner(
	cfg *config.Config,
	symbol string,
	feed *feedsvc.Client,
	repo Recorder,
	notifier notify.Notifier,
	health *healthsvc.State,
) *Runner {
	now := time.Now()
	return &Runner{
		cfg:    cfg,
		symbol: symbol,

		feed:     feed,
		repo:     repo,
		notifier: notifier,
		health:   health,

		buf:    buffer.New(symbol, cfg.BarInterval(), cfg.Feed.BufferMaxSize),
		ltfBuf: buffer.New(symbol, cfg.LTFBarInterval(), cfg.Feed.BufferMaxSize),

		scorer:    strategy.NewConfluence(symbol, cfg.Timeframe, cfg.Strategy),
		life:      lifecycle.New(cfg.Lifecycle, cfg.Friction),
		riskMgr:   risk.New(cfg.Risk, cfg.InitialCapital, now),
		sizer:     sizing.New(cfg.Sizing),
		ltfEngine: ltf.New(cfg.LTF),

		pos: models.NoPosition(),
		session: models.SessionRecord{
			SessionID:     fmt.Sprintf("%s-%d", symbol, now.UnixNano()),
			Symbol:        symbol,
			Timeframe:     cfg.Timeframe,
			StartedAt:     now,
			InitialEquity: cfg.InitialCapital,
		},
	}
}

// Start блокирует до остановки ctx или терминальной ошибки фида.
// Гарантия shutdown: открытая позиция закрывается по последней цене,
// статистика сессии доезжает до БД — даже если фид был в середине реконнекта.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.bootstrap(ctx); err != nil {
		return fmt.Errorf("runner %s: %w", r.symbol, err)
	}

	r.insertSessionWithRetry(ctx)
	r.health.SetReady(true)

	timeframes := []string{r.cfg.Timeframe}
	if r.cfg.LTF.Enabled {
		timeframes = append(timeframes, r.cfg.LTFTimeframe)
	}
	stream := r.feed.Stream(ctx, r.symbol, timeframes)
	defer stream.Disconnect()

	var terminalErr error

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-stream.Events():
			if !ok {
				break loop
			}
			switch ev.Kind {
			case models.EventUpdate:
				r.health.SetFeedConnected(true)
				if ev.Candle.Close > 0 {
					r.lastPrice = ev.Candle.Close
				}
			case models.EventClosed:
				r.health.SetFeedConnected(true)
				r.onClosedBar(ev)
			case models.EventTerminal:
				r.health.SetFeedConnected(false)
				logger.Error("[RUNNER] %s terminal feed error: %v", r.symbol, ev.Err)
				r.notifier.Send(notify.Alert{
					Level: notify.LevelError, Event: "FEED_DOWN",
					Message:   fmt.Sprintf("[%s] поток мёртв: %v", r.symbol, ev.Err),
					Timestamp: time.Now(),
				})
				terminalErr = ev.Err
				break loop
			}
		}
	}

	// shutdown: финансовое состояние важнее бухгалтерии — сперва
	// закрываем позицию, потом пишем отчётность.
	r.shutdown()
	return terminalErr
}

func (r *Runner) bootstrap(ctx context.Context) error {
	htf, err := r.feed.Backfill(ctx, r.symbol, r.cfg.Timeframe, r.cfg.Feed.BackfillDays)
	if err != nil {
		return fmt.Errorf("backfill HTF: %w", err)
	}
	r.buf.Bootstrap(htf)

	if r.cfg.LTF.Enabled {
		// младшему ТФ хватает короткой истории — только на свинги
		ltfBars, err := r.feed.Backfill(ctx, r.symbol, r.cfg.LTFTimeframe, 1)
		if err != nil {
			return fmt.Errorf("backfill LTF: %w", err)
		}
		r.ltfBuf.Bootstrap(ltfBars)
	}
	return nil
}

func (r *Runner) onClosedBar(ev models.CandleEvent) {
	switch helper.NormTF(ev.Timeframe) {
	case helper.NormTF(r.cfg.Timeframe):
		r.onBarHTF(ev.Candle)
	case helper.NormTF(r.cfg.LTFTimeframe):
		r.onBarLTF(ev.Candle)
	}
}

// onBarHTF — один закрытый бар старшего ТФ: буфер -> lifecycle открытой
// позиции ИЛИ скоринг нового входа -> тик риск-менеджера.
func (r *Runner) onBarHTF(lc models.LiveCandle) {
	span := opentracing.StartSpan("bar.evaluate")
	span.SetTag("symbol", r.symbol)
	span.SetTag("ts", lc.Start.Unix())
	defer span.Finish()

	if !r.buf.HandleLiveUpdate(lc) {
		return // дубль/out-of-order уже залогирован буфером
	}
	bar := lc.Candle
	r.lastPrice = bar.Close
	r.health.TouchBar(bar.Start)

	sig, hasSig := r.scorer.Evaluate(r.buf, r.buf.Len()-1)

	if r.pos.IsOpen() {
		p := r.pos.Get()
		reversal := hasSig && sig.Side != p.Side
		action := r.life.Evaluate(p, bar, r.buf, reversal)
		r.applyAction(p, action)
	} else if hasSig && r.setup == nil {
		r.onSignal(sig)
	}

	r.riskMgr.OnBar(bar.Start)
}

// onBarLTF — бар младшего ТФ двигает только pending-сетап.
func (r *Runner) onBarLTF(lc models.LiveCandle) {
	if !r.ltfBuf.HandleLiveUpdate(lc) {
		return
	}
	if lc.Close > 0 {
		r.lastPrice = lc.Close
	}
	if r.setup == nil {
		return
	}

	if !r.ltfEngine.OnBar(r.setup, r.ltfBuf) {
		return
	}

	s := r.setup
	r.setup = nil

	switch s.State {
	case models.LTFConfirmed:
		sig := s.Parent
		sig.Entry = s.RefinedEntry
		sig.StopLoss = s.RefinedSL
		r.openPosition(sig)
	case models.LTFExpired:
		logger.Info("[RUNNER] %s LTF setup expired, signal dropped", r.symbol)
	}
}

// onSignal — сигнал на флэте: либо сразу в риск-гейт, либо через LTF.
func (r *Runner) onSignal(sig models.Signal) {
	if r.cfg.LTF.Enabled {
		r.setup = r.ltfEngine.NewSetup(sig)
		logger.Info("[RUNNER] %s signal %s @ %.6f, waiting for LTF confirmation",
			r.symbol, sig.Side, sig.Entry)
		return
	}
	r.openPosition(sig)
}

func (r *Runner) applyAction(p *models.Position, action models.ExitAction) {
	switch action.Kind {
	case models.ActionHold:
		// ничего

	case models.ActionExitMarket:
		r.closePosition(action.Price, action.Reason, action.Note)

	case models.ActionTakePartial:
		r.life.ApplyPartial(p, action.Price)
		r.notifier.Send(notify.Alert{
			Level: notify.LevelInfo, Event: "PARTIAL",
			Message: fmt.Sprintf("💰 [%s] частичная фиксация @ %.6f (%s), SL -> %.6f",
				r.symbol, action.Price, action.Note, p.SL),
			Timestamp: time.Now(),
		})

	case models.ActionTightenStop:
		if lifecycle.ApplyStop(p, action.NewSL) {
			logger.Info("[RUNNER] %s SL -> %.6f (%s)", r.symbol, p.SL, action.Note)
		}

	default:
		panic(fmt.Sprintf("engine: unknown exit action %d", action.Kind))
	}
}

// kellyInputs — winrate/RR по закрытым сделкам сессии, с мягким приором
// пока статистики мало.
func (r *Runner) kellyInputs() (winRate, avgRR float64) {
	total := r.wins + r.losses
	winRate = (float64(r.wins) + 1) / (float64(total) + 2) // приор 0.5

	avgRR = r.cfg.Strategy.TakeProfitRR
	if r.wins > 0 && r.losses > 0 && r.sumLossR < 0 {
		avgWin := r.sumWinR / float64(r.wins)
		avgLoss := -r.sumLossR / float64(r.losses)
		if avgLoss > 0 {
			avgRR = avgWin / avgLoss
		}
	}
	return winRate, avgRR
}
