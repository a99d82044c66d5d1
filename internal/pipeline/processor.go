// Package pipeline 定义了文档摄取的核心流程。
package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"vectrieve-go/internal/apperr"
	"vectrieve-go/internal/model"
	"vectrieve-go/internal/repository"
	"vectrieve-go/internal/splitter"
	"vectrieve-go/internal/vectorstore"
	"vectrieve-go/pkg/embedding"
	"vectrieve-go/pkg/log"
	"vectrieve-go/pkg/storage"
	"vectrieve-go/pkg/tasks"
)

// TextExtractor 抽象了从原始字节中提取纯文本的能力。
// 生产环境由 Tika 客户端实现；未配置 Tika 时由 plainTextExtractor 兜底。
type TextExtractor interface {
	ExtractText(ctx context.Context, fileReader io.Reader, fileName string) (string, error)
}

// PlainTextExtractor 把原始字节当作 UTF-8 纯文本处理，非法编码判定为不支持的格式。
type PlainTextExtractor struct{}

func (PlainTextExtractor) ExtractText(ctx context.Context, fileReader io.Reader, fileName string) (string, error) {
	data, err := io.ReadAll(fileReader)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("文件 %s 不是合法的 UTF-8 文本: %w", fileName, apperr.ErrUnsupportedFormat)
	}
	return string(data), nil
}

// Processor 封装了文档摄取的所有依赖和流程：
// 对象存储 → 文本提取 → 切块 → 向量化 → 写入向量索引 → 登记注册表。
//
// mu 只保护注册表可见性与索引变更本身；向量化调用都在锁外进行。
// pending 在摄取进行期间占住文件名，保证并发的同名摄取/删除串行化，
// 且注册表在全部分块写入索引之前不会暴露该文件。
type Processor struct {
	mu      sync.Mutex
	pending map[string]bool

	splitter        *splitter.Splitter
	extractor       TextExtractor
	embeddingClient embedding.Client
	store           vectorstore.Store
	objects         storage.ObjectStore
	docRepo         repository.DocumentRepository
	modelVersion    string
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	sp *splitter.Splitter,
	extractor TextExtractor,
	embeddingClient embedding.Client,
	store vectorstore.Store,
	objects storage.ObjectStore,
	docRepo repository.DocumentRepository,
	modelVersion string,
) *Processor {
	if extractor == nil {
		extractor = PlainTextExtractor{}
	}
	return &Processor{
		pending:         make(map[string]bool),
		splitter:        sp,
		extractor:       extractor,
		embeddingClient: embeddingClient,
		store:           store,
		objects:         objects,
		docRepo:         docRepo,
		modelVersion:    modelVersion,
	}
}

// objectKey 是文件原始字节在对象存储中的键。
func objectKey(fileName string) string {
	return "raw/" + fileName
}

// reserve 占住文件名。已在注册表或摄取中的文件名返回 ErrDuplicateFile。
func (p *Processor) reserve(fileName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending[fileName] {
		return apperr.ErrDuplicateFile
	}
	if _, err := p.docRepo.FindByFileName(fileName); err == nil {
		return apperr.ErrDuplicateFile
	} else if !errors.Is(err, apperr.ErrNotFound) {
		// 注册表暂时不可用时不能把文件当作不存在放行
		return fmt.Errorf("查询文档登记失败: %w", err)
	}
	p.pending[fileName] = true
	return nil
}

func (p *Processor) release(fileName string) {
	p.mu.Lock()
	delete(p.pending, fileName)
	p.mu.Unlock()
}

// Ingest 同步摄取一份文档。成功时文件的全部分块已可检索且文件已登记；
// 失败时回滚已写入的部分索引条目，注册表保持不变。
func (p *Processor) Ingest(ctx context.Context, fileName string, raw []byte) (*model.IngestResult, error) {
	start := time.Now()

	if strings.TrimSpace(fileName) == "" || len(raw) == 0 {
		return nil, fmt.Errorf("文件名或文件内容为空: %w", apperr.ErrInvalidInput)
	}

	if err := p.reserve(fileName); err != nil {
		return nil, err
	}
	defer p.release(fileName)

	md5Sum := md5.Sum(raw)
	fileMD5 := hex.EncodeToString(md5Sum[:])
	log.Infof("[Processor] 开始摄取文件, FileName: %s, MD5: %s, Size: %d", fileName, fileMD5, len(raw))

	// 1. 原始字节归档到对象存储
	if p.objects != nil {
		if err := p.objects.PutObject(ctx, objectKey(fileName), raw); err != nil {
			log.Errorf("[Processor] 归档原始文件到对象存储失败, FileName: %s, Error: %v", fileName, err)
			return nil, fmt.Errorf("归档原始文件失败: %w", err)
		}
	}

	// 2. 提取纯文本
	textContent, err := p.extractor.ExtractText(ctx, strings.NewReader(string(raw)), fileName)
	if err != nil {
		log.Errorf("[Processor] 提取文本失败, FileName: %s, Error: %v", fileName, err)
		return nil, err
	}

	// 3. 文本切块。零个分块说明文件为空或没有可提取的内容，拒绝摄取：
	//    注册表中的文件必须至少有一个已索引的分块。
	chunks, err := p.splitter.Split(textContent, fileName)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		log.Warnf("[Processor] 文件没有可索引的内容, 拒绝摄取, FileName: %s", fileName)
		return nil, fmt.Errorf("文件为空或无法提取内容: %w", apperr.ErrInvalidInput)
	}
	log.Infof("[Processor] 文本分块完成, FileName: %s, 共 %d 个分块", fileName, len(chunks))

	// 4. 逐块向量化（锁外执行，这是延迟大头）
	entries := make([]model.IndexEntry, 0, len(chunks))
	for _, chunk := range chunks {
		vector, err := p.embedWithRetry(ctx, chunk.Text)
		if err != nil {
			log.Errorf("[Processor] 分块 %d 向量化失败, FileName: %s, Error: %v", chunk.Seq, fileName, err)
			return nil, fmt.Errorf("分块 %d 向量化失败: %w", chunk.Seq, apperr.Upstream(err))
		}
		entries = append(entries, model.IndexEntry{
			VectorID:     fmt.Sprintf("%s_%d", fileMD5, chunk.Seq),
			FileName:     fileName,
			FileMD5:      fileMD5,
			Seq:          chunk.Seq,
			TextContent:  chunk.Text,
			Vector:       vector,
			ModelVersion: p.modelVersion,
		})
	}

	// 5. 写入向量索引并登记注册表。持锁完成，保证可见性原子：
	//    注册表中出现该文件名时，它的全部分块一定已经可检索。
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.Upsert(ctx, entries); err != nil {
		log.Errorf("[Processor] 写入向量索引失败, FileName: %s, Error: %v", fileName, err)
		// 回滚可能写入的部分条目，保持索引与失败前一致
		if rbErr := p.store.DeleteByFileName(ctx, fileName); rbErr != nil {
			log.Errorf("[Processor] 回滚部分索引条目失败, FileName: %s, Error: %v", fileName, rbErr)
		}
		return nil, fmt.Errorf("写入向量索引失败: %w", err)
	}

	record := &model.Document{
		FileName:  fileName,
		FileMD5:   fileMD5,
		TotalSize: int64(len(raw)),
		Status:    model.StatusIndexing,
	}
	if err := p.docRepo.Create(record); err != nil {
		log.Errorf("[Processor] 登记文档失败, FileName: %s, Error: %v", fileName, err)
		if rbErr := p.store.DeleteByFileName(ctx, fileName); rbErr != nil {
			log.Errorf("[Processor] 回滚索引条目失败, FileName: %s, Error: %v", fileName, rbErr)
		}
		return nil, fmt.Errorf("登记文档失败: %w", err)
	}
	if err := p.docRepo.MarkIndexed(fileName, len(entries)); err != nil {
		log.Errorf("[Processor] 更新文档状态失败, FileName: %s, Error: %v", fileName, err)
		return nil, fmt.Errorf("更新文档状态失败: %w", err)
	}

	duration := time.Since(start).Seconds()
	log.Infof("[Processor] 文件摄取成功, FileName: %s, Chunks: %d, Duration: %.3fs", fileName, len(entries), duration)
	return &model.IngestResult{
		FileName:      fileName,
		ChunksIndexed: len(entries),
		Duration:      duration,
	}, nil
}

// embedWithRetry 调用向量化接口，失败时立即重试一次，不做退避。
func (p *Processor) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	vector, err := p.embeddingClient.CreateEmbedding(ctx, text)
	if err == nil {
		return vector, nil
	}
	log.Warnf("[Processor] 向量化失败，立即重试一次: %v", err)
	return p.embeddingClient.CreateEmbedding(ctx, text)
}

// Delete 删除一份文档：向量索引条目、对象存储归档与注册表记录。
// 与同名摄取持同一把锁串行化，调用方不会观察到部分删除。
func (p *Processor) Delete(ctx context.Context, fileName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending[fileName] {
		// 同名摄取尚未完成，按重复冲突处理而不是交错执行
		return apperr.ErrDuplicateFile
	}
	if _, err := p.docRepo.FindByFileName(fileName); err != nil {
		return err
	}

	if err := p.store.DeleteByFileName(ctx, fileName); err != nil {
		log.Errorf("[Processor] 删除向量索引条目失败, FileName: %s, Error: %v", fileName, err)
		return fmt.Errorf("删除向量索引条目失败: %w", err)
	}
	if p.objects != nil {
		if err := p.objects.RemoveObject(ctx, objectKey(fileName)); err != nil {
			// 对象存储的归档残留不影响检索正确性，记录后继续
			log.Warnf("[Processor] 删除对象存储归档失败, FileName: %s, Error: %v", fileName, err)
		}
	}
	if err := p.docRepo.Delete(fileName); err != nil {
		log.Errorf("[Processor] 删除文档登记失败, FileName: %s, Error: %v", fileName, err)
		return fmt.Errorf("删除文档登记失败: %w", err)
	}

	log.Infof("[Processor] 文件删除成功, FileName: %s", fileName)
	return nil
}

// ListFiles 返回已完成索引的文件名，按文件名升序。
func (p *Processor) ListFiles() ([]string, error) {
	records, err := p.docRepo.FindAll()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(records))
	for _, r := range records {
		if r.Status == model.StatusIndexed {
			names = append(names, r.FileName)
		}
	}
	return names, nil
}

// ListDocuments 返回全部文档登记记录（含摄取中的）。
func (p *Processor) ListDocuments() ([]model.Document, error) {
	return p.docRepo.FindAll()
}

// Process 实现 kafka.TaskProcessor：从对象存储取回原始字节后走同步摄取流程。
// 已登记的文件直接视为成功，保证消费端重试幂等。
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) error {
	raw, err := p.objects.GetObject(ctx, task.ObjectKey)
	if err != nil {
		return fmt.Errorf("从对象存储下载文件失败: %w", err)
	}

	_, err = p.Ingest(ctx, task.FileName, raw)
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicateFile) {
			log.Infof("[Processor] 文件已登记, 跳过摄取任务, FileName: %s", task.FileName)
			return nil
		}
		return err
	}
	return nil
}
