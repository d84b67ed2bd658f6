package pipeline

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"lexicon-go/internal/model"
	"lexicon-go/pkg/llm"
	"lexicon-go/pkg/log"
)

// ErrNoImages 表示装备目录下没有可用的图片。
var ErrNoImages = errors.New("equipment has no images")

// Dispatcher 对每件装备发出一次标注请求（含重试），并发由 Governor 控制。
type Dispatcher struct {
	client        llm.VisionClient
	governor      *Governor
	policy        RetryPolicy
	equipmentType string
}

// NewDispatcher 创建一个新的 Dispatcher 实例。
func NewDispatcher(client llm.VisionClient, governor *Governor, policy RetryPolicy, equipmentType string) *Dispatcher {
	return &Dispatcher{
		client:        client,
		governor:      governor,
		policy:        policy,
		equipmentType: equipmentType,
	}
}

// Dispatch 把装备的全部图片和提示词放进同一个请求，返回模型原始文本和尝试次数。
// 槽位只在每次请求期间占用，退避等待时不占用。
func (d *Dispatcher) Dispatch(ctx context.Context, item model.EquipmentItem) (string, int, error) {
	if len(item.ImagePaths) == 0 {
		return "", 0, &TerminalError{EquipmentID: item.EquipmentID, Err: ErrNoImages}
	}

	equipmentType := item.EquipmentType
	if equipmentType == "" {
		equipmentType = d.equipmentType
	}
	prompt := BuildPrompt(equipmentType)

	var text string
	attempts, err := d.policy.Do(ctx, item.EquipmentID, func(ctx context.Context) error {
		if err := d.governor.Acquire(ctx); err != nil {
			return err
		}
		defer d.governor.Release()

		// 拿到槽位之后才读图片，避免所有装备的图片同时驻留内存
		images, err := loadImages(item)
		if err != nil {
			return &TerminalError{EquipmentID: item.EquipmentID, Err: err}
		}

		start := time.Now()
		out, err := d.client.DescribeImages(ctx, prompt, images)
		if err != nil {
			log.Warnw("[Dispatcher] 模型调用失败", "equipment_id", item.EquipmentID, "elapsed", time.Since(start), "error", err)
			return err
		}
		log.Debugf("[Dispatcher] 装备 %s 标注完成, 耗时 %s", item.EquipmentID, time.Since(start))
		text = out
		return nil
	})
	if err != nil {
		return "", attempts, err
	}
	return text, attempts, nil
}

// loadImages 读取装备的全部图片，任何一张读不出来都视为终止性失败。
func loadImages(item model.EquipmentItem) ([]llm.Image, error) {
	if len(item.ImagePaths) == 0 {
		return nil, ErrNoImages
	}
	images := make([]llm.Image, 0, len(item.ImagePaths))
	for _, path := range item.ImagePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unreadable image %s: %w", path, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("unreadable image %s: empty file", path)
		}
		images = append(images, llm.Image{Data: data, MimeType: mime.TypeByExtension(filepath.Ext(path))})
	}
	return images, nil
}
