package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AnomalyScanJob looks for months whose posted net movement deviates far
// from the company's recent history. It runs strictly after commit; a
// failed scan never touches ledger state.
type AnomalyScanJob struct {
	Pool   *pgxpool.Pool
	Logger *slog.Logger
	clock  func() time.Time
}

// NewAnomalyScanJob initialises the anomaly scan handler.
func NewAnomalyScanJob(pool *pgxpool.Pool, logger *slog.Logger) *AnomalyScanJob {
	return &AnomalyScanJob{
		Pool:   pool,
		Logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the anomaly scan logic.
func (j *AnomalyScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("anomaly scan: handler not configured")
	}
	var payload AnomalyScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WindowMonths <= 0 {
		payload.WindowMonths = 12
	}
	if payload.Z <= 0 {
		payload.Z = 2.5
	}

	start := j.now()
	logger := j.logger().With(
		slog.Int64("company_id", payload.CompanyID),
		slog.Int("window_months", payload.WindowMonths),
		slog.Float64("z_threshold", payload.Z),
	)
	logger.Info("starting anomaly scan")

	companies := []int64{payload.CompanyID}
	if payload.CompanyID == 0 {
		ids, err := j.allCompanies(ctx)
		if err != nil {
			logger.Error("list companies", slog.Any("error", err))
			return err
		}
		companies = ids
	}

	var anomalies []scanAnomaly
	for _, companyID := range companies {
		found, err := j.scan(ctx, companyID, payload, start)
		if err != nil {
			logger.Error("scan failed", slog.Int64("scanned_company_id", companyID), slog.Any("error", err))
			return err
		}
		anomalies = append(anomalies, found...)
	}

	for _, a := range anomalies {
		logger.Warn("ledger anomaly detected",
			slog.Int64("scanned_company_id", a.CompanyID),
			slog.String("period", a.Period),
			slog.String("severity", a.Severity),
			slog.Float64("z_score", a.ZScore),
			slog.Float64("delta", a.Delta),
		)
	}

	logger.Info("completed anomaly scan",
		slog.Int("anomalies", len(anomalies)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *AnomalyScanJob) allCompanies(ctx context.Context) ([]int64, error) {
	if j.Pool == nil {
		return nil, errors.New("anomaly scan: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `SELECT DISTINCT company_id FROM journal_entries WHERE status = 'POSTED' ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (j *AnomalyScanJob) scan(ctx context.Context, companyID int64, payload AnomalyScanPayload, now time.Time) ([]scanAnomaly, error) {
	if j.Pool == nil {
		return nil, errors.New("anomaly scan: pool not configured")
	}
	from := now.AddDate(0, -payload.WindowMonths+1, 0).Format("2006-01")
	rows, err := j.Pool.Query(ctx, `SELECT to_char(e.date, 'YYYY-MM') AS period, SUM(l.debit)::double precision AS posted
FROM journal_entries e
JOIN journal_lines l ON l.entry_id = e.id
WHERE e.company_id = $1 AND e.status = 'POSTED' AND to_char(e.date, 'YYYY-MM') >= $2
GROUP BY 1 ORDER BY 1`, companyID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []string
	var values []float64
	for rows.Next() {
		var period string
		var posted float64
		if err := rows.Scan(&period, &posted); err != nil {
			return nil, err
		}
		periods = append(periods, period)
		values = append(values, posted)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(values) < 3 {
		return nil, nil
	}

	mean := average(values)
	stddev := std(values, mean)
	if stddev == 0 {
		return nil, nil
	}
	last := values[len(values)-1]
	zscore := math.Abs((last - mean) / stddev)

	var anomalies []scanAnomaly
	switch {
	case zscore >= payload.Z:
		anomalies = append(anomalies, scanAnomaly{CompanyID: companyID, Period: periods[len(periods)-1], Severity: "HIGH", ZScore: zscore, Delta: last - mean})
	case zscore >= payload.Z*0.6:
		anomalies = append(anomalies, scanAnomaly{CompanyID: companyID, Period: periods[len(periods)-1], Severity: "MEDIUM", ZScore: zscore, Delta: last - mean})
	}
	return anomalies, nil
}

func (j *AnomalyScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAnomalyScan))
	}
	return slog.Default().With(slog.String("job", TaskAnomalyScan))
}

func (j *AnomalyScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

type scanAnomaly struct {
	CompanyID int64
	Period    string
	Severity  string
	ZScore    float64
	Delta     float64
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func std(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var variance float64
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}
