package repository

import (
	"context"
	"database/sql"
	"fmt"

	"lexicon-go/internal/model"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore 打开（必要时创建）一个 SQLite 文件作为 RecordStore。
func NewSQLiteStore(path string) (RecordStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &sqliteStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS label_records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		equipment_id TEXT NOT NULL UNIQUE,
		equipment_name TEXT NOT NULL,
		all_labels TEXT NOT NULL DEFAULT '',
		appearance_description TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *sqliteStore) Name() string { return "sqlite" }

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) LoadAll(ctx context.Context) ([]model.LabelRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT equipment_id, equipment_name, all_labels, appearance_description
		FROM label_records ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []model.LabelRecord{}
	for rows.Next() {
		var row model.LabelRecordRow
		if err := rows.Scan(&row.EquipmentID, &row.EquipmentName, &row.AllLabels, &row.AppearanceDescription); err != nil {
			return nil, err
		}
		records = append(records, row.ToRecord())
	}
	return records, rows.Err()
}

func (s *sqliteStore) LoadIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT equipment_id FROM label_records`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// AppendBatch 在一个事务里 upsert 整批记录，已存在的 ID 保留原来的顺序号。
func (s *sqliteStore) AppendBatch(ctx context.Context, records []model.LabelRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO label_records (equipment_id, equipment_name, all_labels, appearance_description)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(equipment_id) DO UPDATE SET
			equipment_name = excluded.equipment_name,
			all_labels = excluded.all_labels,
			appearance_description = excluded.appearance_description,
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		row := model.NewLabelRecordRow(rec)
		if _, err := stmt.ExecContext(ctx, row.EquipmentID, row.EquipmentName, row.AllLabels, row.AppearanceDescription); err != nil {
			return fmt.Errorf("insert %s: %w", rec.EquipmentID, err)
		}
	}
	return tx.Commit()
}
