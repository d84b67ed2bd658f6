package model

import "time"

// LabelRecordRow 对应数据库中的 label_records 表（mysql / sqlite 存储驱动）。
type LabelRecordRow struct {
	Seq                   uint      `gorm:"primaryKey;autoIncrement;column:seq"`
	EquipmentID           string    `gorm:"type:varchar(64);not null;uniqueIndex;column:equipment_id"`
	EquipmentName         string    `gorm:"type:varchar(255);not null;column:equipment_name"`
	AllLabels             string    `gorm:"type:text;column:all_labels"`
	AppearanceDescription string    `gorm:"type:text;column:appearance_description"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime;column:updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (LabelRecordRow) TableName() string {
	return "label_records"
}

// ToRecord 转换为领域对象。
func (r LabelRecordRow) ToRecord() LabelRecord {
	return LabelRecord{
		EquipmentID:           r.EquipmentID,
		EquipmentName:         r.EquipmentName,
		AllLabels:             ParseLabelString(r.AllLabels),
		AppearanceDescription: r.AppearanceDescription,
	}
}

// NewLabelRecordRow 由领域对象构造数据库行。
func NewLabelRecordRow(rec LabelRecord) LabelRecordRow {
	return LabelRecordRow{
		EquipmentID:           rec.EquipmentID,
		EquipmentName:         rec.EquipmentName,
		AllLabels:             rec.JoinedLabels(),
		AppearanceDescription: rec.AppearanceDescription,
	}
}
