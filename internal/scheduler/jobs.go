package scheduler

import (
	"context"

	"titan-pay/pkg/models"

	"go.uber.org/zap"
)

// SessionExpirer интерфейс сервиса, умеющего просрочивать зависшие сессии
type SessionExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// ExpiryJob периодически переводит зависшие pending-сессии в expired
type ExpiryJob struct {
	settlement SessionExpirer
	logger     *zap.Logger
}

// NewExpiryJob создает задачу просрочки сессий
func NewExpiryJob(settlement SessionExpirer, logger *zap.Logger) *ExpiryJob {
	return &ExpiryJob{
		settlement: settlement,
		logger:     logger,
	}
}

// Name возвращает имя задачи
func (j *ExpiryJob) Name() string {
	return "session_expiry"
}

// Run просрочивает зависшие сессии одним пакетом
func (j *ExpiryJob) Run(ctx context.Context) error {
	expired, err := j.settlement.ExpireStale(ctx)
	if err != nil {
		return err
	}

	if expired > 0 {
		j.logger.Info("просрочены зависшие сессии", zap.Int64("expired", expired))
	}

	return nil
}

// Sweeper интерфейс сервиса казначейства
type Sweeper interface {
	SweepBatch(ctx context.Context, assetID *string) ([]*models.SweepOutcome, error)
	PendingTotals(ctx context.Context) ([]*models.PendingSweepTotal, error)
}

// SweepJob периодически переводит средства завершенных сессий в казначейство
type SweepJob struct {
	treasury Sweeper
	logger   *zap.Logger
}

// NewSweepJob создает задачу подбора средств
func NewSweepJob(treasury Sweeper, logger *zap.Logger) *SweepJob {
	return &SweepJob{
		treasury: treasury,
		logger:   logger,
	}
}

// Name возвращает имя задачи
func (j *SweepJob) Name() string {
	return "treasury_sweep"
}

// Run подбирает один пакет завершенных сессий по всем активам
// и обновляет метрику очереди
func (j *SweepJob) Run(ctx context.Context) error {
	outcomes, err := j.treasury.SweepBatch(ctx, nil)
	if err != nil {
		return err
	}

	submitted := 0
	for _, o := range outcomes {
		if !o.Skipped {
			submitted++
		}
	}
	if len(outcomes) > 0 {
		j.logger.Info("подбор средств выполнен",
			zap.Int("candidates", len(outcomes)),
			zap.Int("submitted", submitted))
	}

	if _, err := j.treasury.PendingTotals(ctx); err != nil {
		j.logger.Warn("ошибка обновления метрики очереди подбора", zap.Error(err))
	}

	return nil
}
