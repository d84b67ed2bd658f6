package repository

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"lexicon-go/internal/model"
)

// CSVColumns 是持久化 csv 的列，顺序固定。
var CSVColumns = []string{"equipment_id", "equipment_name", "all_labels", "appearance_description"}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type csvStore struct {
	path string
}

// NewCSVStore 创建一个以 csv 文件为载体的 RecordStore。文件不存在时视为空。
func NewCSVStore(path string) RecordStore {
	return &csvStore{path: path}
}

func (s *csvStore) Name() string { return "csv" }

func (s *csvStore) Close() error { return nil }

func (s *csvStore) LoadAll(ctx context.Context) ([]model.LabelRecord, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []model.LabelRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	records, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return records, nil
}

func (s *csvStore) LoadIDs(ctx context.Context) (map[string]struct{}, error) {
	records, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	return idsOf(records), nil
}

// AppendBatch 把已提交的记录和新批次一起写入临时文件，再原子替换。
// 同一 ID 的新记录替换旧记录，位置不变。
func (s *csvStore) AppendBatch(ctx context.Context, batch []model.LabelRecord) error {
	if len(batch) == 0 {
		return nil
	}
	existing, err := s.LoadAll(ctx)
	if err != nil {
		return err
	}
	merged := dedupeLastWins(append(existing, batch...))
	return writeFileAtomic(s.path, func(w io.Writer) error {
		return WriteCSV(w, merged)
	})
}

// ReadCSV 解析带表头的 csv，兼容 BOM 和包含额外列的旧格式文件。
func ReadCSV(r io.Reader) ([]model.LabelRecord, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []model.LabelRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	idIdx, ok := col["equipment_id"]
	if !ok {
		return nil, errors.New("missing equipment_id column")
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var records []model.LabelRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if idIdx >= len(row) || strings.TrimSpace(row[idIdx]) == "" {
			continue
		}
		records = append(records, model.LabelRecord{
			EquipmentID:           strings.TrimSpace(row[idIdx]),
			EquipmentName:         field(row, "equipment_name"),
			AllLabels:             model.ParseLabelString(field(row, "all_labels")),
			AppearanceDescription: field(row, "appearance_description"),
		})
	}
	return dedupeLastWins(records), nil
}

// WriteCSV 以 BOM + 表头 + 数据行的格式写出记录，便于表格软件直接打开。
func WriteCSV(w io.Writer, records []model.LabelRecord) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVColumns); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write([]string{r.EquipmentID, r.EquipmentName, r.JoinedLabels(), r.AppearanceDescription}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
