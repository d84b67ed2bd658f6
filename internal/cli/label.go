package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lexicon-go/internal/config"
	"lexicon-go/internal/pipeline"
	"lexicon-go/internal/repository"
	"lexicon-go/pkg/es"
	"lexicon-go/pkg/kafka"
	"lexicon-go/pkg/llm"
	"lexicon-go/pkg/log"
	"lexicon-go/pkg/storage"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Label every equipment directory under --dir",
	Long: `为 --dir 下每个 "<装备名称>_<装备ID>" 子目录调用视觉模型生成标签。

已经落盘的装备会被跳过，因此中断后重新执行同一命令即可继续。`,
	Run: runLabel,
}

var labelFlags struct {
	dir         string
	equipType   string
	model       string
	api         string
	key         string
	output      string
	concurrency int
	batchSize   int
	debug       bool
}

func init() {
	f := labelCmd.Flags()
	f.StringVar(&labelFlags.dir, "dir", "", "图片目录路径（包含\"装备名称_装备ID\"子目录）")
	f.StringVar(&labelFlags.equipType, "type", "", "装备类型，写入提示词（必填，可由 labeler.equipment_type 提供）")
	f.StringVar(&labelFlags.model, "model", "", "模型名称（默认取配置 llm.model）")
	f.StringVar(&labelFlags.api, "api", "", "OpenAI 兼容 API 基础 URL（默认取配置 llm.base_url）")
	f.StringVar(&labelFlags.key, "key", "", "API 密钥（Ollama 不需要）")
	f.StringVar(&labelFlags.output, "output", "", "输出 CSV 文件路径")
	f.IntVar(&labelFlags.concurrency, "concurrency", 0, "同时进行的模型请求数上限")
	f.IntVar(&labelFlags.batchSize, "batch-size", 0, "每批落盘的记录数")
	f.BoolVar(&labelFlags.debug, "debug", false, "调试模式，只处理前 10 件")
}

// applyLabelFlags 用显式给出的命令行参数覆盖配置文件
func applyLabelFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("dir") {
		cfg.Labeler.ImageDir = labelFlags.dir
	}
	if f.Changed("type") {
		cfg.Labeler.EquipmentType = labelFlags.equipType
	}
	if f.Changed("model") {
		cfg.LLM.Model = labelFlags.model
	}
	if f.Changed("api") {
		cfg.LLM.BaseURL = config.NormalizeBaseURL(labelFlags.api)
	}
	if f.Changed("key") {
		cfg.LLM.APIKey = labelFlags.key
	}
	if f.Changed("output") {
		cfg.Labeler.OutputPath = labelFlags.output
	}
	if f.Changed("concurrency") {
		cfg.Labeler.MaxConcurrency = labelFlags.concurrency
	}
	if f.Changed("batch-size") {
		cfg.Labeler.BatchSize = labelFlags.batchSize
	}
	if f.Changed("debug") {
		cfg.Labeler.Debug = labelFlags.debug
	}
}

func runLabel(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	defer log.Sync()
	applyLabelFlags(cmd, cfg)
	if err := cfg.ValidateLabeler(); err != nil {
		exitError("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := repository.OpenRecordStore(cfg)
	if err != nil {
		exitError("failed to open %s store: %v", cfg.Storage.Driver, err)
	}
	defer store.Close()

	failures, err := repository.OpenFailureLog(ctx, cfg)
	if err != nil {
		exitError("failed to open failure log: %v", err)
	}

	var observers []pipeline.BatchObserver
	if cfg.Kafka.Brokers != "" {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		observers = append(observers, producer)
	}
	if cfg.Elasticsearch.Addresses != "" {
		if indexer, err := newIndexer(ctx, cfg.Elasticsearch); err != nil {
			log.Warnf("Elasticsearch 不可用, 本次运行不写入索引: %v", err)
		} else {
			observers = append(observers, indexer)
		}
	}

	governor := pipeline.NewGovernor(cfg.Labeler.MaxConcurrency)
	dispatcher := pipeline.NewDispatcher(llm.NewClient(cfg.LLM), governor, pipeline.RetryPolicyFromConfig(cfg.Retry), cfg.Labeler.EquipmentType)
	processor := pipeline.NewProcessor(dispatcher, store, failures, cfg.Labeler.BatchSize, observers...)

	fmt.Printf("Labeling %s with %s (concurrency %d, %s store)\n",
		cfg.Labeler.ImageDir, cfg.LLM.Model, governor.Limit(), store.Name())

	summary, runErr := processor.Run(ctx, pipeline.Options{
		ImageDir:      cfg.Labeler.ImageDir,
		EquipmentType: cfg.Labeler.EquipmentType,
		Debug:         cfg.Labeler.Debug,
		DebugLimit:    cfg.Labeler.DebugLimit,
	})
	if summary != nil {
		printSummary(summary)
	}

	var perr *pipeline.PersistenceError
	var ierr *pipeline.InputValidationError
	switch {
	case errors.As(runErr, &ierr):
		exitError("%v", ierr)
	case errors.As(runErr, &perr):
		exitError("%v (committed batches are intact, rerun to resume)", perr)
	case errors.Is(runErr, context.Canceled):
		color.New(color.FgYellow).Println("Interrupted. Rerun the same command to resume.")
	case runErr != nil:
		exitError("%v", runErr)
	}

	if cfg.Storage.ArchiveToS3 && cfg.MinIO.Endpoint != "" && summary != nil {
		// 中断后也归档已经落盘的部分
		if err := archiveSnapshot(context.WithoutCancel(ctx), cfg, store, summary.RunID); err != nil {
			log.Errorf("上传快照失败: %v", err)
		}
	}
	if runErr != nil {
		log.Sync()
		os.Exit(130)
	}
}

func newIndexer(ctx context.Context, cfg config.ElasticsearchConfig) (*es.Indexer, error) {
	client, err := es.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := es.EnsureIndex(ctx, client, cfg.IndexName); err != nil {
		return nil, err
	}
	return es.NewIndexer(client, cfg.IndexName), nil
}

func archiveSnapshot(ctx context.Context, cfg *config.Config, store repository.RecordStore, runID string) error {
	client, err := storage.NewMinIO(ctx, cfg.MinIO)
	if err != nil {
		return err
	}
	records, err := store.LoadAll(ctx)
	if err != nil {
		return err
	}
	names, err := storage.NewSnapshotArchive(client, cfg.MinIO.BucketName, cfg.Search.ObjectName).Upload(ctx, runID, records)
	if err != nil {
		return err
	}
	fmt.Printf("Snapshot uploaded: %s/%s\n", cfg.MinIO.BucketName, names[1])
	if url, err := storage.GetPresignedURL(ctx, client, cfg.MinIO.BucketName, names[1], 24*time.Hour); err == nil {
		fmt.Printf("  download (24h): %s\n", url)
	}
	return nil
}

func printSummary(s *pipeline.Summary) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	fmt.Printf("\nRun %s finished in %s\n", shortID(s.RunID), s.Duration.Round(time.Millisecond))
	fmt.Printf("  discovered  %d\n", s.Discovered)
	fmt.Printf("  skipped     %d (already labeled)\n", s.Skipped)
	fmt.Printf("  dispatched  %d\n", s.Dispatched)
	green.Printf("  labeled     %d\n", s.Labeled)
	if s.ParseFailures > 0 {
		yellow.Printf("  unparsed    %d (saved with empty labels)\n", s.ParseFailures)
	}
	if failed := len(s.Failures) - s.ParseFailures; failed > 0 {
		red.Printf("  failed      %d (will be retried on the next run)\n", failed)
	}
	if s.Interrupted > 0 {
		yellow.Printf("  interrupted %d\n", s.Interrupted)
	}
	fmt.Printf("  batches     %d\n", s.Batches)

	for _, f := range s.Failures {
		c := red
		if f.Parse {
			c = yellow
		}
		c.Printf("    %s %s: %s\n", f.EquipmentID, f.EquipmentName, f.Reason)
	}
}

// shortID returns first 8 characters of an ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
