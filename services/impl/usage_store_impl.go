package impl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tas-llm-gateway/models"
)

const usageQueueSize = 256

// UsageStoreImpl persists usage rows to Postgres off the request path.
// Record never blocks: rows are queued to a single writer goroutine and
// dropped with a warning if the queue is full.
type UsageStoreImpl struct {
	db     *gorm.DB
	logger *logrus.Logger

	queue chan *models.GatewayUsageRow
	done  chan struct{}
	once  sync.Once
}

// NewUsageStore connects to Postgres and migrates the usage table.
func NewUsageStore(databaseURL string, logger *logrus.Logger) (*UsageStoreImpl, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetMaxOpenConns(16)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.GatewayUsageRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate usage table: %w", err)
	}

	s := &UsageStoreImpl{
		db:     db,
		logger: logger,
		queue:  make(chan *models.GatewayUsageRow, usageQueueSize),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

func (s *UsageStoreImpl) writeLoop() {
	defer close(s.done)
	for row := range s.queue {
		if err := s.db.Create(row).Error; err != nil {
			s.logger.WithError(err).WithField("backend_id", row.ResolvedBackendID).
				Warn("Failed to persist usage row")
		}
	}
}

// Record queues a row for persistence without blocking the request.
func (s *UsageStoreImpl) Record(row *models.GatewayUsageRow) {
	select {
	case s.queue <- row:
	default:
		s.logger.WithField("backend_id", row.ResolvedBackendID).
			Warn("Usage queue full, dropping row")
	}
}

// Stats aggregates the persisted rows created since the given time.
func (s *UsageStoreImpl) Stats(ctx context.Context, since time.Time) (*models.GatewayUsageStats, error) {
	stats := &models.GatewayUsageStats{
		WindowStart:       since,
		WindowEnd:         time.Now().UTC(),
		RequestsByBackend: make(models.BackendCounts),
		CostByTier:        make(models.TierCosts),
	}

	var totals struct {
		Total     int64
		Tokens    int64
		Cost      float64
		AvgLat    float64
		MaxLat    int64
		Escalated int64
	}
	err := s.db.WithContext(ctx).Model(&models.GatewayUsageRow{}).
		Where("created_at >= ?", since).
		Select("COUNT(*) AS total, " +
			"COALESCE(SUM(total_tokens_est), 0) AS tokens, " +
			"COALESCE(SUM(cost_est_usd), 0) AS cost, " +
			"COALESCE(AVG(latency_ms), 0) AS avg_lat, " +
			"COALESCE(MAX(latency_ms), 0) AS max_lat, " +
			"COALESCE(SUM(CASE WHEN escalated THEN 1 ELSE 0 END), 0) AS escalated").
		Scan(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage rows: %w", err)
	}
	stats.TotalRequests = totals.Total
	stats.TotalTokensEst = totals.Tokens
	stats.TotalCostUSD = totals.Cost
	stats.AvgLatencyMs = totals.AvgLat
	stats.MaxLatencyMs = totals.MaxLat
	stats.EscalatedRequests = totals.Escalated

	var byStatus []struct {
		Status string
		N      int64
	}
	err = s.db.WithContext(ctx).Model(&models.GatewayUsageRow{}).
		Where("created_at >= ?", since).
		Select("status, COUNT(*) AS n").Group("status").
		Scan(&byStatus).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate statuses: %w", err)
	}
	for _, row := range byStatus {
		switch row.Status {
		case models.StatusSuccess:
			stats.SuccessfulRequests = row.N
		case models.StatusQualityCompromised:
			stats.QualityCompromised = row.N
		default:
			stats.FailedRequests += row.N
		}
	}

	var byBackend []struct {
		ResolvedBackendID string
		N                 int64
	}
	err = s.db.WithContext(ctx).Model(&models.GatewayUsageRow{}).
		Where("created_at >= ?", since).
		Select("resolved_backend_id, COUNT(*) AS n").Group("resolved_backend_id").
		Scan(&byBackend).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate backends: %w", err)
	}
	for _, row := range byBackend {
		stats.RequestsByBackend[row.ResolvedBackendID] = int(row.N)
	}

	var byTier []struct {
		Tier string
		Cost float64
	}
	err = s.db.WithContext(ctx).Model(&models.GatewayUsageRow{}).
		Where("created_at >= ?", since).
		Select("tier, COALESCE(SUM(cost_est_usd), 0) AS cost").Group("tier").
		Scan(&byTier).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate tiers: %w", err)
	}
	for _, row := range byTier {
		stats.CostByTier[row.Tier] = row.Cost
	}

	return stats, nil
}

// Close stops accepting rows and waits for the queued ones to be written.
func (s *UsageStoreImpl) Close() {
	s.once.Do(func() {
		close(s.queue)
		<-s.done
	})
}
