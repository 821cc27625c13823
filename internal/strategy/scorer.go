package strategy

import (
	"trade_engine/internal/buffer"
	"trade_engine/internal/models"
)

// Scorer — контракт скорера: по буферу и индексу последней закрытой свечи
// отдаёт типизированное "торгуй или жди". Сигнал иммутабелен и потребляется
// ровно один раз за оценку.
type Scorer interface {
	Evaluate(buf *buffer.Buffer, idx int) (models.Signal, bool)
}
