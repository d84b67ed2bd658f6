// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lexicon-go/internal/config"
	"lexicon-go/internal/model"
	"lexicon-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"golang.org/x/sync/errgroup"
)

// bulkChunkSize 单个 _bulk 请求包含的最大文档数。
const bulkChunkSize = 20

// NewClient 创建 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return elasticsearch.NewClient(cfg)
}

// indexMapping 标签作为 keyword 精确匹配，描述和名称走全文检索。
const indexMapping = `{
	"mappings": {
		"properties": {
			"equipment_id": { "type": "keyword" },
			"equipment_name": { "type": "text", "fields": { "raw": { "type": "keyword" } } },
			"all_labels": { "type": "keyword" },
			"appearance_description": { "type": "text" },
			"run_id": { "type": "keyword" },
			"batch_seq": { "type": "integer" },
			"committed_at": { "type": "date" }
		}
	}
}`

// EnsureIndex 检查索引是否存在，如果不存在则创建它。
func EnsureIndex(ctx context.Context, client *elasticsearch.Client, indexName string) error {
	res, err := client.Indices.Exists([]string{indexName}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("检查索引是否存在时出错: %w", err)
	}
	res.Body.Close()
	// 200 说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
	}

	res, err = client.Indices.Create(
		indexName,
		client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("创建索引 '%s' 失败: %w", indexName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// LabelDocument 是索引中的一条装备文档，文档 ID 即装备 ID，重新标注时覆盖。
type LabelDocument struct {
	EquipmentID           string    `json:"equipment_id"`
	EquipmentName         string    `json:"equipment_name"`
	AllLabels             []string  `json:"all_labels"`
	AppearanceDescription string    `json:"appearance_description"`
	RunID                 string    `json:"run_id"`
	BatchSeq              int       `json:"batch_seq"`
	CommittedAt           time.Time `json:"committed_at"`
}

// Indexer 把每个已提交的批次镜像到索引中，实现了 pipeline.BatchObserver。
type Indexer struct {
	client    *elasticsearch.Client
	indexName string
}

// NewIndexer 创建索引器。
func NewIndexer(client *elasticsearch.Client, indexName string) *Indexer {
	return &Indexer{client: client, indexName: indexName}
}

// BatchCommitted 按 bulkChunkSize 分片并发写入。
func (ix *Indexer) BatchCommitted(ctx context.Context, batch model.CommittedBatch) error {
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(batch.Records); start += bulkChunkSize {
		end := start + bulkChunkSize
		if end > len(batch.Records) {
			end = len(batch.Records)
		}
		docs := make([]LabelDocument, 0, end-start)
		for _, r := range batch.Records[start:end] {
			docs = append(docs, LabelDocument{
				EquipmentID:           r.EquipmentID,
				EquipmentName:         r.EquipmentName,
				AllLabels:             r.AllLabels,
				AppearanceDescription: r.AppearanceDescription,
				RunID:                 batch.RunID,
				BatchSeq:              batch.Seq,
				CommittedAt:           batch.CommittedAt,
			})
		}
		g.Go(func() error {
			return ix.bulkIndex(gctx, docs)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Debugf("[ES] 批次 %d 已写入索引 %s, 文档数: %d", batch.Seq, ix.indexName, len(batch.Records))
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

func (ix *Indexer) bulkIndex(ctx context.Context, docs []LabelDocument) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		meta := map[string]map[string]string{"index": {"_index": ix.indexName, "_id": doc.EquipmentID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{
		Body:    &buf,
		Refresh: "false",
	}
	res, err := req.Do(ctx, ix.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk index: %s", res.String())
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !br.Errors {
		return nil
	}
	var errs []error
	for _, item := range br.Items {
		for _, result := range item {
			if result.Status >= 300 {
				errs = append(errs, fmt.Errorf("document %s: %s: %s", result.ID, result.Error.Type, result.Error.Reason))
			}
		}
	}
	return errors.Join(errs...)
}
