package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mengeric/jobprogress/logging"
	"github.com/mengeric/jobprogress/status"
)

// ErrNotFound 归档中不存在该任务。
var ErrNotFound = errors.New("job status not archived")

// model 映射到数据库表 job_status_archive。
type model struct {
	ID           uint      `gorm:"primaryKey"`
	JobID        string    `gorm:"uniqueIndex;size:128"`
	State        string    `gorm:"index;size:16"`
	Current      int       `gorm:"default:0"`
	Total        int       `gorm:"default:0"`
	Message      string    `gorm:"type:text"`
	OutputURL    string    `gorm:"type:text"`
	ErrorCode    string    `gorm:"size:64"`
	ErrorMessage string    `gorm:"type:text"`
	FinishedAt   time.Time `gorm:"index"`
	CreatedAt    time.Time
}

func (model) TableName() string { return "job_status_archive" }

// Store 基于 GORM 的终态记录归档，供内存记录过期后查询。
type Store struct{ db *gorm.DB }

// New 创建 Store；调用方可先执行 Migrate。
func New(db *gorm.DB) *Store { return &Store{db: db} }

// Migrate 自动建表。
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&model{})
}

// Save 归档终态记录；同一 jobID 重复保存时覆盖。
func (s *Store) Save(ctx context.Context, rec status.Record) error {
	m := toModel(rec)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "current", "total", "message", "output_url", "error_code", "error_message", "finished_at"}),
	}).Create(&m).Error
}

// Get 读取归档记录。
func (s *Store) Get(ctx context.Context, jobID string) (status.Record, error) {
	var m model
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return status.Record{}, ErrNotFound
	}
	if err != nil {
		return status.Record{}, err
	}
	return fromModel(m), nil
}

// PurgeBefore 删除 finished_at 早于 t 的归档，返回删除条数。
func (s *Store) PurgeBefore(ctx context.Context, t time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("finished_at < ?", t).Delete(&model{})
	return res.RowsAffected, res.Error
}

// StartPurge 每隔 every 删除早于 retention 的归档；ctx 取消后退出。
func (s *Store) StartPurge(ctx context.Context, every, retention time.Duration) {
	if every <= 0 || retention <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.PurgeBefore(ctx, time.Now().Add(-retention))
				if err != nil {
					logging.L().Warn(ctx, "archive purge failed", "err", err)
					continue
				}
				if n > 0 {
					logging.L().Info(ctx, "archive purged", "deleted", n)
				}
			}
		}
	}()
}

func toModel(r status.Record) model {
	return model{
		JobID:        r.JobID,
		State:        string(r.State),
		Current:      r.Current,
		Total:        r.Total,
		Message:      r.Message,
		OutputURL:    r.OutputURL,
		ErrorCode:    r.ErrorCode,
		ErrorMessage: r.ErrorMessage,
		FinishedAt:   r.LastUpdatedAt,
	}
}

func fromModel(m model) status.Record {
	return status.Record{
		JobID:         m.JobID,
		State:         status.State(m.State),
		Current:       m.Current,
		Total:         m.Total,
		Message:       m.Message,
		OutputURL:     m.OutputURL,
		ErrorCode:     m.ErrorCode,
		ErrorMessage:  m.ErrorMessage,
		LastUpdatedAt: m.FinishedAt,
	}
}
