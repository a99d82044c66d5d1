package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"vectrieve-go/internal/apperr"
	"vectrieve-go/internal/config"
	"vectrieve-go/internal/model"
	"vectrieve-go/pkg/llm"
)

type fakeRetrieval struct {
	results []model.RetrievedChunk
	err     error
}

func (f *fakeRetrieval) Retrieve(ctx context.Context, query string, topK int) ([]model.RetrievedChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

// fakeLLM 把预置的增量逐个写入 writer，并记录收到的消息列表与生成参数。
type fakeLLM struct {
	chunks      []string
	err         error
	gotMessages []llm.Message
	gotParams   *llm.GenerationParams
}

func (f *fakeLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, writer llm.MessageWriter) error {
	f.gotMessages = messages
	f.gotParams = gen
	if f.err != nil {
		return f.err
	}
	for _, c := range f.chunks {
		if err := writer.WriteMessage(1, []byte(c)); err != nil {
			return err
		}
	}
	return nil
}

type fakeConvRepo struct {
	mu        sync.Mutex
	histories map[string][]model.ChatMessage
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{histories: make(map[string][]model.ChatMessage)}
}

func (r *fakeConvRepo) GetOrCreateConversationID(ctx context.Context, sessionID string) (string, error) {
	return "conv-" + sessionID, nil
}

func (r *fakeConvRepo) GetConversationHistory(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.histories[conversationID], nil
}

func (r *fakeConvRepo) UpdateConversationHistory(ctx context.Context, conversationID string, messages []model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histories[conversationID] = messages
	return nil
}

type fakeFeedbackRepo struct {
	mu           sync.Mutex
	queryRecords []model.QueryRecord
	feedback     []model.FeedbackRecord
	createErr    error
}

func (r *fakeFeedbackRepo) CreateQueryRecord(record *model.QueryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.queryRecords = append(r.queryRecords, *record)
	return nil
}

func (r *fakeFeedbackRepo) FindQueryRecord(queryID string) (*model.QueryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.queryRecords {
		if r.queryRecords[i].QueryID == queryID {
			record := r.queryRecords[i]
			return &record, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (r *fakeFeedbackRepo) FindAllQueryRecords() ([]model.QueryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.QueryRecord(nil), r.queryRecords...), nil
}

func (r *fakeFeedbackRepo) CreateFeedback(record *model.FeedbackRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record.ID = uint(len(r.feedback) + 1)
	r.feedback = append(r.feedback, *record)
	return nil
}

func (r *fakeFeedbackRepo) FindAllFeedback() ([]model.FeedbackRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.FeedbackRecord(nil), r.feedback...), nil
}

// fakeWriter 记录写入的全部帧。
type fakeWriter struct {
	mu     sync.Mutex
	frames [][]byte
}

func (w *fakeWriter) WriteMessage(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, append([]byte(nil), data...))
	return nil
}

func (w *fakeWriter) lastFrame(t *testing.T) map[string]interface{} {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.frames) == 0 {
		t.Fatal("未写入任何帧")
	}
	var frame map[string]interface{}
	if err := json.Unmarshal(w.frames[len(w.frames)-1], &frame); err != nil {
		t.Fatalf("最后一帧不是合法 JSON: %v", err)
	}
	return frame
}

func newTestChatService(retrieval RetrievalService, llmClient llm.Client, convRepo *fakeConvRepo, fbRepo *fakeFeedbackRepo) ChatService {
	return NewChatService(retrieval, llmClient, convRepo, fbRepo, config.LLMConfig{Model: "test-model"})
}

func TestStreamResponseSuccess(t *testing.T) {
	retrieval := &fakeRetrieval{results: []model.RetrievedChunk{
		{FileName: "f.txt", Content: "依据内容", Score: 0.9},
	}}
	llmClient := &fakeLLM{chunks: []string{"你", "好"}}
	convRepo := newFakeConvRepo()
	fbRepo := &fakeFeedbackRepo{}
	writer := &fakeWriter{}
	svc := newTestChatService(retrieval, llmClient, convRepo, fbRepo)

	err := svc.StreamResponse(context.Background(), "问个问题", "sess-1", nil, writer, nil)
	if err != nil {
		t.Fatal(err)
	}

	// 完成帧携带 query_id、耗时与来源
	frame := writer.lastFrame(t)
	if frame["type"] != "completion" {
		t.Errorf("最后一帧应是完成通知, got %v", frame["type"])
	}
	queryID, _ := frame["query_id"].(string)
	if queryID == "" {
		t.Error("完成帧必须携带非空 query_id")
	}
	if _, ok := frame["latency_seconds"].(float64); !ok {
		t.Error("完成帧必须携带耗时")
	}
	if persisted, ok := frame["persisted"].(bool); !ok || !persisted {
		t.Errorf("落库成功的完成帧 persisted 应为 true, got %v", frame["persisted"])
	}

	// 成功回合写入一条问答记录
	if len(fbRepo.queryRecords) != 1 {
		t.Fatalf("期望 1 条问答记录, got %d", len(fbRepo.queryRecords))
	}
	record := fbRepo.queryRecords[0]
	if record.ResponseText != "你好" {
		t.Errorf("记录的回答应是拼接后的完整答案, got %q", record.ResponseText)
	}
	if record.QueryID != queryID {
		t.Errorf("落库的 query_id 应与完成帧一致: %s != %s", record.QueryID, queryID)
	}
	if record.LatencySeconds < 0 {
		t.Errorf("耗时必须是非负数, got %f", record.LatencySeconds)
	}
	if record.ModelName != "test-model" {
		t.Errorf("记录应携带模型名, got %q", record.ModelName)
	}
	if len(record.Sources) != 1 || record.Sources[0].FileName != "f.txt" {
		t.Errorf("记录应携带来源列表, got %+v", record.Sources)
	}

	// 对话历史追加了 user + assistant 两条
	history := convRepo.histories["conv-sess-1"]
	if len(history) != 2 {
		t.Fatalf("期望历史中有 2 条消息, got %d", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Errorf("历史消息角色错误: %s, %s", history[0].Role, history[1].Role)
	}
}

func TestStreamResponseEmptyQuery(t *testing.T) {
	svc := newTestChatService(&fakeRetrieval{}, &fakeLLM{}, newFakeConvRepo(), &fakeFeedbackRepo{})

	err := svc.StreamResponse(context.Background(), "  ", "sess-1", nil, &fakeWriter{}, nil)
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("空查询应返回 ErrInvalidInput, got %v", err)
	}
}

func TestStreamResponseGenerationFailure(t *testing.T) {
	fbRepo := &fakeFeedbackRepo{}
	llmClient := &fakeLLM{err: fmt.Errorf("chat api returned non-200 status: 502")}
	svc := newTestChatService(&fakeRetrieval{}, llmClient, newFakeConvRepo(), fbRepo)
	writer := &fakeWriter{}

	err := svc.StreamResponse(context.Background(), "问题", "sess-1", nil, writer, nil)
	if !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("生成失败应归类为 ErrUpstreamUnavailable, got %v", err)
	}
	// 失败的回合不落库
	if len(fbRepo.queryRecords) != 0 {
		t.Errorf("失败的回合不应写入问答记录, got %d 条", len(fbRepo.queryRecords))
	}
}

func TestStreamResponseRetrievalFailure(t *testing.T) {
	fbRepo := &fakeFeedbackRepo{}
	retrieval := &fakeRetrieval{err: fmt.Errorf("向量化查询失败: %w", apperr.ErrUpstreamTimeout)}
	svc := newTestChatService(retrieval, &fakeLLM{}, newFakeConvRepo(), fbRepo)

	err := svc.StreamResponse(context.Background(), "问题", "sess-1", nil, &fakeWriter{}, nil)
	if !errors.Is(err, apperr.ErrUpstreamTimeout) {
		t.Fatalf("检索超时应原样上抛, got %v", err)
	}
	if len(fbRepo.queryRecords) != 0 {
		t.Errorf("失败的回合不应写入问答记录")
	}
}

func TestStreamResponseUngrounded(t *testing.T) {
	// 检索为空：照常生成，回合仍然落库，来源列表为空
	llmClient := &fakeLLM{chunks: []string{"没有依据的回答"}}
	fbRepo := &fakeFeedbackRepo{}
	svc := newTestChatService(&fakeRetrieval{}, llmClient, newFakeConvRepo(), fbRepo)

	err := svc.StreamResponse(context.Background(), "问题", "sess-1", nil, &fakeWriter{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(fbRepo.queryRecords) != 1 {
		t.Fatalf("无依据回合也应落库, got %d 条", len(fbRepo.queryRecords))
	}
	if len(fbRepo.queryRecords[0].Sources) != 0 {
		t.Errorf("无检索结果时来源列表应为空, got %+v", fbRepo.queryRecords[0].Sources)
	}
	// system 消息始终存在
	if len(llmClient.gotMessages) == 0 || llmClient.gotMessages[0].Role != "system" {
		t.Error("发给 LLM 的消息应以 system 消息开头")
	}
}

func TestSourceSnippetTruncated(t *testing.T) {
	long := strings.Repeat("字", 200)
	retrieval := &fakeRetrieval{results: []model.RetrievedChunk{
		{FileName: "f.txt", Content: long, Score: 0.8},
	}}
	fbRepo := &fakeFeedbackRepo{}
	svc := newTestChatService(retrieval, &fakeLLM{chunks: []string{"答"}}, newFakeConvRepo(), fbRepo)

	if err := svc.StreamResponse(context.Background(), "问题", "sess-1", nil, &fakeWriter{}, nil); err != nil {
		t.Fatal(err)
	}
	snippet := fbRepo.queryRecords[0].Sources[0].Content
	if got := len([]rune(snippet)); got != sourceSnippetLen+1 {
		t.Errorf("来源片段应截断到 %d 字符加省略号, got %d", sourceSnippetLen, got)
	}
	if !strings.HasSuffix(snippet, "…") {
		t.Errorf("截断的片段应以省略号结尾")
	}
}

func TestStreamResponseTemperatureOutOfRange(t *testing.T) {
	fbRepo := &fakeFeedbackRepo{}
	llmClient := &fakeLLM{}
	svc := newTestChatService(&fakeRetrieval{}, llmClient, newFakeConvRepo(), fbRepo)

	for _, temp := range []float64{-0.1, 1.5} {
		temp := temp
		err := svc.StreamResponse(context.Background(), "问题", "sess-1", &temp, &fakeWriter{}, nil)
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("temperature=%v 应返回 ErrInvalidInput, got %v", temp, err)
		}
	}
	// 非法温度在调用 LLM 之前就被拒绝
	if llmClient.gotMessages != nil {
		t.Error("非法温度不应触发生成调用")
	}
}

func TestStreamResponsePerTurnTemperature(t *testing.T) {
	llmClient := &fakeLLM{chunks: []string{"答"}}
	svc := newTestChatService(&fakeRetrieval{}, llmClient, newFakeConvRepo(), &fakeFeedbackRepo{})

	temp := 0.7
	if err := svc.StreamResponse(context.Background(), "问题", "sess-1", &temp, &fakeWriter{}, nil); err != nil {
		t.Fatal(err)
	}
	if llmClient.gotParams == nil || llmClient.gotParams.Temperature == nil {
		t.Fatal("回合温度应传入生成参数")
	}
	if *llmClient.gotParams.Temperature != 0.7 {
		t.Errorf("生成参数温度应为 0.7, got %v", *llmClient.gotParams.Temperature)
	}
}

func TestStreamResponsePersistFailureSurfaced(t *testing.T) {
	// 问答记录落库失败：流式响应照常完成，但完成帧标记 persisted=false
	llmClient := &fakeLLM{chunks: []string{"答"}}
	fbRepo := &fakeFeedbackRepo{createErr: errors.New("mysql has gone away")}
	writer := &fakeWriter{}
	svc := newTestChatService(&fakeRetrieval{}, llmClient, newFakeConvRepo(), fbRepo)

	if err := svc.StreamResponse(context.Background(), "问题", "sess-1", nil, writer, nil); err != nil {
		t.Fatalf("落库失败不应打断已完成的回合, got %v", err)
	}
	frame := writer.lastFrame(t)
	if frame["type"] != "completion" {
		t.Fatalf("最后一帧应是完成通知, got %v", frame["type"])
	}
	if persisted, ok := frame["persisted"].(bool); !ok || persisted {
		t.Errorf("落库失败的完成帧 persisted 应为 false, got %v", frame["persisted"])
	}
}
