// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"lexicon-go/internal/config"
	"lexicon-go/internal/model"
	"lexicon-go/internal/repository"
	"lexicon-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// NewMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewMinIO(ctx context.Context, cfg config.MinIOConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}
	log.Infof("MinIO 客户端初始化成功, bucket: %s", cfg.BucketName)
	return client, nil
}

// objectPutter 是 *minio.Client 中上传用到的部分。
type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// SnapshotArchive 把一次运行结束时的全部记录导出为 csv 上传。
type SnapshotArchive struct {
	client     objectPutter
	bucket     string
	objectName string
}

// NewSnapshotArchive 创建归档器。objectName 是最新快照的对象名，查询服务从这里加载。
func NewSnapshotArchive(client *minio.Client, bucket, objectName string) *SnapshotArchive {
	return &SnapshotArchive{client: client, bucket: bucket, objectName: objectName}
}

// RunObjectName 返回某次运行的快照副本对象名，如 snapshots/<run_id>/equipment_labels.csv。
func RunObjectName(objectName, runID string) string {
	return path.Join(path.Dir(objectName), runID, path.Base(objectName))
}

// Upload 上传最新快照和本次运行的副本，返回两个对象名。
func (a *SnapshotArchive) Upload(ctx context.Context, runID string, records []model.LabelRecord) ([]string, error) {
	var buf bytes.Buffer
	if err := repository.WriteCSV(&buf, records); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	data := buf.Bytes()

	names := []string{a.objectName, RunObjectName(a.objectName, runID)}
	for _, name := range names {
		_, err := a.client.PutObject(ctx, a.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType:  "text/csv; charset=utf-8",
			UserMetadata: map[string]string{"run-id": runID},
		})
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", name, err)
		}
	}
	log.Infof("[Storage] 快照已上传到 %s/%s, 记录数: %d", a.bucket, a.objectName, len(records))
	return names, nil
}

// ObjectCSVSource 从对象存储中读取 csv 快照，供查询服务加载。
type ObjectCSVSource struct {
	open func(ctx context.Context) (io.ReadCloser, error)
	name string
}

// NewObjectCSVSource 创建一个读取 bucket/objectName 的数据源。
func NewObjectCSVSource(client *minio.Client, bucket, objectName string) *ObjectCSVSource {
	return &ObjectCSVSource{
		name: bucket + "/" + objectName,
		open: func(ctx context.Context) (io.ReadCloser, error) {
			return client.GetObject(ctx, bucket, objectName, minio.GetObjectOptions{})
		},
	}
}

// LoadAll 下载并解析快照。
func (s *ObjectCSVSource) LoadAll(ctx context.Context) ([]model.LabelRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	obj, err := s.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.name, err)
	}
	defer obj.Close()

	records, err := repository.ReadCSV(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.name, err)
	}
	return records, nil
}

// GetPresignedURL 为快照对象生成一个临时下载链接。
func GetPresignedURL(ctx context.Context, client *minio.Client, bucketName, objectName string, expiry time.Duration) (string, error) {
	presignedURL, err := client.PresignedGetObject(ctx, bucketName, objectName, expiry, nil)
	if err != nil {
		return "", err
	}
	return presignedURL.String(), nil
}
