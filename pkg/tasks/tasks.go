// Package tasks defines the messages exchanged over Kafka.
package tasks

import "time"

// LabelBatchEvent 在每个批次原子落盘之后发布，查询服务据此重新加载快照。
type LabelBatchEvent struct {
	RunID        string    `json:"run_id"`
	BatchSeq     int       `json:"batch_seq"`
	EquipmentIDs []string  `json:"equipment_ids"`
	Store        string    `json:"store"`
	CommittedAt  time.Time `json:"committed_at"`
}
