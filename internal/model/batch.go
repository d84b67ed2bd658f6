package model

import "time"

// CommittedBatch 描述一个已经原子落盘的批次，提交之后通知给各个观察者。
type CommittedBatch struct {
	RunID       string
	Seq         int
	Store       string
	Records     []LabelRecord
	CommittedAt time.Time
}

// IDs 返回批次内的装备 ID，顺序与写入顺序一致。
func (b CommittedBatch) IDs() []string {
	ids := make([]string, 0, len(b.Records))
	for _, r := range b.Records {
		ids = append(ids, r.EquipmentID)
	}
	return ids
}
