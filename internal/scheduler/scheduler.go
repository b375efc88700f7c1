package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler управляет запуском периодических задач
type Scheduler struct {
	logger *zap.Logger
	jobs   []scheduledJob
	wg     sync.WaitGroup
}

// Job интерфейс для периодических задач
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type scheduledJob struct {
	job      Job
	interval time.Duration
}

// NewScheduler создает новый планировщик задач
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		jobs:   make([]scheduledJob, 0),
	}
}

// AddJob добавляет задачу с собственным интервалом запуска
func (s *Scheduler) AddJob(job Job, interval time.Duration) {
	s.jobs = append(s.jobs, scheduledJob{job: job, interval: interval})
}

// Start запускает планировщик: каждая задача крутится в своей горутине.
// Блокируется до отмены контекста и завершения всех задач.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("запуск планировщика задач", zap.Int("jobs_count", len(s.jobs)))

	for _, sj := range s.jobs {
		s.wg.Add(1)
		go s.runLoop(ctx, sj)
	}

	s.wg.Wait()
	s.logger.Info("планировщик задач остановлен")
}

// runLoop запускает одну задачу по тикеру до отмены контекста
func (s *Scheduler) runLoop(ctx context.Context, sj scheduledJob) {
	defer s.wg.Done()

	ticker := time.NewTicker(sj.interval)
	defer ticker.Stop()

	// Запускаем задачу сразу при старте
	s.runJob(ctx, sj.job)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runJob(ctx, sj.job)
		}
	}
}

// runJob запускает задачу и логирует результат
func (s *Scheduler) runJob(ctx context.Context, job Job) {
	s.logger.Debug("запуск задачи", zap.String("job", job.Name()))

	if err := job.Run(ctx); err != nil {
		s.logger.Error("ошибка выполнения задачи",
			zap.Error(err),
			zap.String("job", job.Name()))
	}
}
