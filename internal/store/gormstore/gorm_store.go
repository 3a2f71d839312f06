package gormstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// screenRunModel 持久化一次完整的筛选运行。
type screenRunModel struct {
	ID           string `gorm:"primaryKey;size:36"`
	Profile      string `gorm:"size:64"`
	Mode         string `gorm:"size:32"`
	LookbackDays int
	Threshold    float64
	TopN         int
	Universe     int
	Matched      int
	Params       datatypes.JSON
	StartedAt    time.Time `gorm:"index"`
	FinishedAt   time.Time
}

func (screenRunModel) TableName() string { return "screen_runs" }

// screenEntryModel 持久化筛选命中的单只股票。
type screenEntryModel struct {
	ID    uint   `gorm:"primaryKey;autoIncrement"`
	RunID string `gorm:"index;size:36"`
	Rank  int
	Code  string `gorm:"index;size:16"`
	Name  string `gorm:"size:128"`
	// Ratio 以十进制文本存储，避免浮点反序列化丢精度。
	Ratio string `gorm:"size:32"`
}

func (screenEntryModel) TableName() string { return "screen_entries" }

// RunRecord 是对外暴露的运行记录。
type RunRecord struct {
	ID           string          `json:"id"`
	Profile      string          `json:"profile,omitempty"`
	Mode         string          `json:"mode"`
	LookbackDays int             `json:"lookback_days"`
	Threshold    float64         `json:"threshold"`
	TopN         int             `json:"top_n"`
	Universe     int             `json:"universe"`
	Matched      int             `json:"matched"`
	Params       json.RawMessage `json:"params,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
}

// EntryRecord 是对外暴露的单票结果。
type EntryRecord struct {
	Rank  int    `json:"rank"`
	Code  string `json:"code"`
	Name  string `json:"name"`
	Ratio string `json:"ratio"`
}

// ErrRunNotFound 查询不到指定运行时返回。
var ErrRunNotFound = errors.New("screen run not found")

// GormStore implements screen-run history storage using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore initializes a new GormStore instance.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 历史库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&screenRunModel{}, &screenEntryModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveRun 在单个事务里落盘运行记录与全部命中条目。
func (s *GormStore) SaveRun(run RunRecord, entries []EntryRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("run id 必填")
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		model := screenRunModel{
			ID:           run.ID,
			Profile:      run.Profile,
			Mode:         run.Mode,
			LookbackDays: run.LookbackDays,
			Threshold:    run.Threshold,
			TopN:         run.TopN,
			Universe:     run.Universe,
			Matched:      run.Matched,
			Params:       datatypes.JSON(run.Params),
			StartedAt:    run.StartedAt,
			FinishedAt:   run.FinishedAt,
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		for _, e := range entries {
			row := screenEntryModel{
				RunID: run.ID,
				Rank:  e.Rank,
				Code:  e.Code,
				Name:  e.Name,
				Ratio: e.Ratio,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// LatestRun 返回最近一次运行及其条目。
func (s *GormStore) LatestRun() (RunRecord, []EntryRecord, error) {
	if s == nil || s.db == nil {
		return RunRecord{}, nil, fmt.Errorf("gorm store 未初始化")
	}
	var model screenRunModel
	err := s.db.Order("started_at DESC").First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RunRecord{}, nil, ErrRunNotFound
	}
	if err != nil {
		return RunRecord{}, nil, err
	}
	return s.assembleRun(model)
}

// RunByID 按运行 ID 查询。
func (s *GormStore) RunByID(id string) (RunRecord, []EntryRecord, error) {
	if s == nil || s.db == nil {
		return RunRecord{}, nil, fmt.Errorf("gorm store 未初始化")
	}
	var model screenRunModel
	err := s.db.Where("id = ?", strings.TrimSpace(id)).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RunRecord{}, nil, ErrRunNotFound
	}
	if err != nil {
		return RunRecord{}, nil, err
	}
	return s.assembleRun(model)
}

// ListRuns 返回最近 limit 次运行（不含条目）。
func (s *GormStore) ListRuns(limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 {
		limit = 20
	}
	var models []screenRunModel
	if err := s.db.Order("started_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	runs := make([]RunRecord, 0, len(models))
	for _, m := range models {
		runs = append(runs, toRunRecord(m))
	}
	return runs, nil
}

func (s *GormStore) assembleRun(model screenRunModel) (RunRecord, []EntryRecord, error) {
	var rows []screenEntryModel
	if err := s.db.Where("run_id = ?", model.ID).Order("rank ASC").Find(&rows).Error; err != nil {
		return RunRecord{}, nil, err
	}
	entries := make([]EntryRecord, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, EntryRecord{Rank: r.Rank, Code: r.Code, Name: r.Name, Ratio: r.Ratio})
	}
	return toRunRecord(model), entries, nil
}

func toRunRecord(m screenRunModel) RunRecord {
	return RunRecord{
		ID:           m.ID,
		Profile:      m.Profile,
		Mode:         m.Mode,
		LookbackDays: m.LookbackDays,
		Threshold:    m.Threshold,
		TopN:         m.TopN,
		Universe:     m.Universe,
		Matched:      m.Matched,
		Params:       json.RawMessage(m.Params),
		StartedAt:    m.StartedAt,
		FinishedAt:   m.FinishedAt,
	}
}
