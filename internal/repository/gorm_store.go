package repository

import (
	"context"

	"lexicon-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormStore struct {
	db *gorm.DB
}

// NewGormStore 创建一个基于 GORM（MySQL）的 RecordStore，并自动迁移 label_records 表。
func NewGormStore(db *gorm.DB) (RecordStore, error) {
	if err := db.AutoMigrate(&model.LabelRecordRow{}); err != nil {
		return nil, err
	}
	return &gormStore{db: db}, nil
}

func (s *gormStore) Name() string { return "mysql" }

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *gormStore) LoadAll(ctx context.Context) ([]model.LabelRecord, error) {
	var rows []model.LabelRecordRow
	if err := s.db.WithContext(ctx).Order("seq").Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]model.LabelRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.ToRecord())
	}
	return records, nil
}

func (s *gormStore) LoadIDs(ctx context.Context) (map[string]struct{}, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&model.LabelRecordRow{}).Pluck("equipment_id", &ids).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// AppendBatch 在一个事务里批量 upsert，equipment_id 冲突时覆盖内容。
func (s *gormStore) AppendBatch(ctx context.Context, records []model.LabelRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]model.LabelRecordRow, 0, len(records))
	for _, rec := range dedupeLastWins(records) {
		rows = append(rows, model.NewLabelRecordRow(rec))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "equipment_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"equipment_name", "all_labels", "appearance_description", "updated_at"}),
		}).Create(&rows).Error
	})
}
