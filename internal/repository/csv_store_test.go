package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lexicon-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id, name string, labels ...string) model.LabelRecord {
	if labels == nil {
		labels = []string{}
	}
	return model.LabelRecord{EquipmentID: id, EquipmentName: name, AllLabels: labels, AppearanceDescription: name + " desc"}
}

func TestCSVStore_MissingFileIsEmpty(t *testing.T) {
	s := NewCSVStore(filepath.Join(t.TempDir(), "labels.csv"))
	records, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCSVStore_AppendAndLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "labels.csv")
	s := NewCSVStore(path)

	require.NoError(t, s.AppendBatch(ctx, []model.LabelRecord{rec("2", "剑", "金色", "金属"), rec("1", "盾")}))
	require.NoError(t, s.AppendBatch(ctx, []model.LabelRecord{rec("3", "弓", "木质")}))

	records, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "2", records[0].EquipmentID)
	assert.Equal(t, []string{"金色", "金属"}, records[0].AllLabels)
	assert.Empty(t, records[1].AllLabels)
	assert.Equal(t, "3", records[2].EquipmentID)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "\xEF\xBB\xBFequipment_id,equipment_name,all_labels,appearance_description\n"))

	ids, err := s.LoadIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestCSVStore_RelabelSupersedes(t *testing.T) {
	ctx := context.Background()
	s := NewCSVStore(filepath.Join(t.TempDir(), "labels.csv"))

	require.NoError(t, s.AppendBatch(ctx, []model.LabelRecord{rec("1", "剑", "旧色"), rec("2", "盾")}))
	require.NoError(t, s.AppendBatch(ctx, []model.LabelRecord{rec("1", "剑", "新色")}))

	records, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].EquipmentID)
	assert.Equal(t, []string{"新色"}, records[0].AllLabels)
}

func TestCSVStore_CrashBeforePublishKeepsLastBatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "labels.csv")
	s := NewCSVStore(path)
	require.NoError(t, s.AppendBatch(ctx, []model.LabelRecord{rec("1", "剑", "金色")}))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	crash := errors.New("power cut")
	beforeRename = func(string) error { return crash }
	t.Cleanup(func() { beforeRename = func(string) error { return nil } })

	err = s.AppendBatch(ctx, []model.LabelRecord{rec("2", "盾"), rec("3", "弓")})
	require.ErrorIs(t, err, crash)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be cleaned up")
}

func TestReadCSV_LegacyWideFormat(t *testing.T) {
	legacy := "\xEF\xBB\xBFequipment_id,equipment_name,front_image,back_image,colors,all_labels,appearance_description,error\n" +
		"10,古代剑,a.png,b.png,金色,\"金色，金属, 金色\",华丽的长剑,\n" +
		"11,皮甲,,,,,,timeout\n" +
		"10,古代剑,a.png,b.png,银色,银色,重新标注,\n"

	records, err := ReadCSV(strings.NewReader(legacy))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "10", records[0].EquipmentID)
	assert.Equal(t, []string{"银色"}, records[0].AllLabels)
	assert.Equal(t, "重新标注", records[0].AppearanceDescription)
	assert.Equal(t, "11", records[1].EquipmentID)
	assert.Empty(t, records[1].AllLabels)
}

func TestReadCSV_RequiresIDColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("name,labels\nx,y\n"))
	assert.Error(t, err)
}

func TestReadCSV_DropsSingleCharacterLabels(t *testing.T) {
	legacy := "equipment_id,equipment_name,all_labels,appearance_description,error\n" +
		"3,长弓,\"弓, 木质, 金, 长弓\",木制长弓,\n"

	records, err := ReadCSV(strings.NewReader(legacy))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"木质", "长弓"}, records[0].AllLabels)
}
