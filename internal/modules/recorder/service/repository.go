package service

import (
	"context"
	"fmt"

	"trade_engine/internal/models"
	"trade_engine/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
)

// TradeRepository — персистентность сделок и сессий. Ядро движка не знает
// SQL: оно видит только этот контракт. Записи разных символов независимы
// (session/trade id дизъюнктны), пул соединений решает конкурентность.
type TradeRepository struct {
	tx db.TxManager
}

func New(tx db.TxManager) *TradeRepository {
	return &TradeRepository{tx: tx}
}

// EnsureSchema — таблицы, если их ещё нет. Вызывается на старте.
func (r *TradeRepository) EnsureSchema(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("TradeRepository.EnsureSchema: %w", err)
		}
	}()

	return r.tx.RunMaster(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
CREATE TABLE IF NOT EXISTS sessions (
	session_id     TEXT PRIMARY KEY,
	symbol         TEXT NOT NULL,
	timeframe      TEXT NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	stopped_at     TIMESTAMPTZ,
	initial_equity DOUBLE PRECISION NOT NULL,
	final_equity   DOUBLE PRECISION,
	trades         INT NOT NULL DEFAULT 0,
	wins           INT NOT NULL DEFAULT 0,
	losses         INT NOT NULL DEFAULT 0,
	max_drawdown   DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS trades (
	trade_id   TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(session_id),
	symbol     TEXT NOT NULL,
	side       TEXT NOT NULL,
	entry      DOUBLE PRECISION NOT NULL,
	raw_entry  DOUBLE PRECISION NOT NULL,
	sl         DOUBLE PRECISION NOT NULL,
	tp         DOUBLE PRECISION NOT NULL,
	units      DOUBLE PRECISION NOT NULL,
	score      DOUBLE PRECISION NOT NULL,
	factors    JSONB,
	opened_at  TIMESTAMPTZ NOT NULL,
	exit_price DOUBLE PRECISION,
	mfe        DOUBLE PRECISION,
	pnl        DOUBLE PRECISION,
	r_multiple DOUBLE PRECISION,
	reason     TEXT,
	bars_held  INT,
	closed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS trades_session_idx ON trades (session_id);
`)
		return err
	})
}

func (r *TradeRepository) InsertSession(ctx context.Context, s *models.SessionRecord) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("TradeRepository.InsertSession: %w", err)
		}
	}()

	return r.tx.RunMaster(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO sessions (session_id, symbol, timeframe, started_at, initial_equity)
VALUES ($1, $2, $3, $4, $5)`,
			s.SessionID, s.Symbol, s.Timeframe, s.StartedAt, s.InitialEquity)
		return err
	})
}

func (r *TradeRepository) UpdateSession(ctx context.Context, s *models.SessionRecord) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("TradeRepository.UpdateSession: %w", err)
		}
	}()

	return r.tx.RunMaster(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
UPDATE sessions SET stopped_at=$2, final_equity=$3, trades=$4, wins=$5, losses=$6, max_drawdown=$7
WHERE session_id=$1`,
			s.SessionID, s.StoppedAt, s.FinalEquity, s.Trades, s.Wins, s.Losses, s.MaxDrawdown)
		return err
	})
}

func (r *TradeRepository) InsertTrade(ctx context.Context, t *models.TradeRecord) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("TradeRepository.InsertTrade: %w", err)
		}
	}()

	var factors []byte
	factors, err = sonic.Marshal(t.Factors)
	if err != nil {
		return err
	}

	return r.tx.RunMaster(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO trades (trade_id, session_id, symbol, side, entry, raw_entry, sl, tp, units, score, factors, opened_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			t.TradeID, t.SessionID, t.Symbol, string(t.Side), t.Entry, t.RawEntry,
			t.SL, t.TP, t.Units, t.Score, factors, t.OpenedAt)
		return err
	})
}

func (r *TradeRepository) UpdateTradeByTradeID(ctx context.Context, t *models.TradeRecord) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("TradeRepository.UpdateTradeByTradeID: %w", err)
		}
	}()

	return r.tx.RunMaster(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
UPDATE trades SET exit_price=$2, mfe=$3, pnl=$4, r_multiple=$5, reason=$6, bars_held=$7, closed_at=$8, sl=$9
WHERE trade_id=$1`,
			t.TradeID, t.ExitPrice, t.MFE, t.Pnl, t.RMultiple, string(t.Reason), t.BarsHeld, t.ClosedAt, t.SL)
		return err
	})
}

func (r *TradeRepository) GetTradesBySessionID(ctx context.Context, sessionID string) (out []models.TradeRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("TradeRepository.GetTradesBySessionID: %w", err)
		}
	}()

	rows, err := r.tx.Conn().Query(ctx, `
SELECT trade_id, session_id, symbol, side, entry, raw_entry, sl, tp, units, score, factors,
       opened_at, COALESCE(exit_price,0), COALESCE(mfe,0), COALESCE(pnl,0),
       COALESCE(r_multiple,0), COALESCE(reason,''), COALESCE(bars_held,0),
       COALESCE(closed_at, 'epoch'::timestamptz)
FROM trades WHERE session_id=$1 ORDER BY opened_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t models.TradeRecord
		var side, reason string
		var factors []byte
		if err := rows.Scan(
			&t.TradeID, &t.SessionID, &t.Symbol, &side, &t.Entry, &t.RawEntry, &t.SL, &t.TP,
			&t.Units, &t.Score, &factors, &t.OpenedAt, &t.ExitPrice, &t.MFE, &t.Pnl,
			&t.RMultiple, &reason, &t.BarsHeld, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		t.Side = models.Side(side)
		t.Reason = models.ExitReason(reason)
		if len(factors) > 0 {
			if err := sonic.Unmarshal(factors, &t.Factors); err != nil {
				return nil, err
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TradeRepository) Close() {
	r.tx.Close()
}
