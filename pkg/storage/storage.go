package storage

import (
	"context"
	"database/sql"
	"time"

	"go-llmsentry/pkg/classifier"
	"go-llmsentry/pkg/config"
	"go-llmsentry/pkg/correlator"
	"go-llmsentry/pkg/logger"
	"go-llmsentry/pkg/models"

	_ "github.com/go-sql-driver/mysql"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"go.uber.org/multierr"
)

// Storage InfluxDB 保存特征记录时序，MySQL 保存检测事件；未配置的一方跳过
type Storage struct {
	influxClient influxdb2.Client
	writeAPI     api.WriteAPIBlocking
	mysqlDB      *sql.DB
}

func NewStorage(cfg *config.Config) (*Storage, error) {
	s := &Storage{}

	if cfg.InfluxDB.URL != "" {
		s.influxClient = influxdb2.NewClient(cfg.InfluxDB.URL, cfg.InfluxDB.Token)
		s.writeAPI = s.influxClient.WriteAPIBlocking(cfg.InfluxDB.Org, cfg.InfluxDB.Bucket)
	}

	if cfg.MySQL.DSN != "" {
		mysqlDB, err := sql.Open("mysql", cfg.MySQL.DSN)
		if err != nil {
			s.Close()
			return nil, err
		}
		mysqlDB.SetMaxIdleConns(cfg.MySQL.MaxIdle)
		mysqlDB.SetMaxOpenConns(cfg.MySQL.MaxOpen)
		s.mysqlDB = mysqlDB
	}

	return s, nil
}

// SaveFeatureRecord 保存特征记录与分类结果到 InfluxDB
func (s *Storage) SaveFeatureRecord(ctx context.Context, eff correlator.Effect, res classifier.Result) error {
	if s.writeAPI == nil {
		return nil
	}

	outcome := "ok"
	if res.Err != nil {
		outcome = "error"
	}
	p := influxdb2.NewPoint(
		"feature_record",
		map[string]string{
			"method":  eff.Method,
			"source":  res.Source,
			"outcome": outcome,
		},
		map[string]interface{}{
			"url":                     eff.URL,
			"url_path":                res.Record.URLPath,
			"is_post":                 res.Record.IsPost,
			"request_content_length":  res.Record.RequestContentLength,
			"response_content_length": res.Record.ResponseContentLength,
			"response_content_size":   res.Record.ResponseContentSize,
			"has_content_length":      res.Record.HasContentLength,
			"is_llm":                  res.Verdict.IsLLM,
			"confidence":              res.Verdict.Confidence,
		},
		time.Now(),
	)

	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		logger.Log.Errorf("保存特征记录失败: %v", err)
		return err
	}
	return nil
}

// SaveDetection 保存检测事件到 MySQL
func (s *Storage) SaveDetection(ctx context.Context, d models.Detection) error {
	if s.mysqlDB == nil {
		return nil
	}

	query := `
        INSERT INTO llm_detections (
            id, request_id, url, method, is_llm,
            confidence, source, remote_ip, country, as_org, detected_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `

	result, err := s.mysqlDB.ExecContext(ctx, query,
		d.ID,
		string(d.RequestID),
		d.URL,
		d.Method,
		d.Verdict.IsLLM,
		d.Verdict.Confidence,
		d.Source,
		d.RemoteIP,
		d.Country,
		d.ASOrg,
		d.DetectedAt,
	)
	if err != nil {
		logger.Log.Errorf("保存检测事件失败: url=%s, error=%v", d.URL, err)
		return err
	}

	affected, _ := result.RowsAffected()
	logger.Log.Infof("成功保存检测事件，影响行数: %d", affected)
	return nil
}

// RecentDetections 查询 since 之后的检测事件（只返回 URL 与时间）
func (s *Storage) RecentDetections(ctx context.Context, since time.Time) ([]models.Detection, error) {
	if s.mysqlDB == nil {
		return nil, nil
	}

	query := `
		SELECT url, detected_at
		FROM llm_detections
		WHERE detected_at > ?
	`

	rows, err := s.mysqlDB.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Detection
	for rows.Next() {
		var d models.Detection
		if err := rows.Scan(&d.URL, &d.DetectedAt); err != nil {
			logger.Log.Errorf("扫描检测记录失败: %v", err)
			continue
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Storage) Close() error {
	var err error
	if s.influxClient != nil {
		s.influxClient.Close()
	}
	if s.mysqlDB != nil {
		err = multierr.Append(err, s.mysqlDB.Close())
	}
	return err
}
