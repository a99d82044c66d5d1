package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"vectrieve-go/internal/apperr"
	"vectrieve-go/internal/config"
	"vectrieve-go/internal/model"
	"vectrieve-go/internal/repository"
	"vectrieve-go/pkg/llm"
	"vectrieve-go/pkg/log"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 查询回合的生命周期状态，仅用于结构化日志。
const (
	turnReceived   = "RECEIVED"
	turnRetrieving = "RETRIEVING"
	turnGenerating = "GENERATING"
	turnComplete   = "COMPLETE"
	turnFailed     = "FAILED"
)

// 完成帧中来源片段的最大长度（按 rune 计）。
const sourceSnippetLen = 150

// ChatService 定义了问答回合的编排接口。
// temperature 为调用方对本回合的采样温度覆盖，nil 表示沿用配置默认值。
type ChatService interface {
	StreamResponse(ctx context.Context, query string, sessionID string, temperature *float64, writer llm.MessageWriter, shouldStop func() bool) error
}

type chatService struct {
	retrievalService RetrievalService
	llmClient        llm.Client
	conversationRepo repository.ConversationRepository
	feedbackRepo     repository.FeedbackRepository
	llmCfg           config.LLMConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	retrievalService RetrievalService,
	llmClient llm.Client,
	conversationRepo repository.ConversationRepository,
	feedbackRepo repository.FeedbackRepository,
	llmCfg config.LLMConfig,
) ChatService {
	return &chatService{
		retrievalService: retrievalService,
		llmClient:        llmClient,
		conversationRepo: conversationRepo,
		feedbackRepo:     feedbackRepo,
		llmCfg:           llmCfg,
	}
}

// StreamResponse 编排一个完整的问答回合：检索 → 生成 → 落库 → 完成帧。
// 失败的回合不写 QueryRecord；检索为空时照常生成（无依据回答），回合仍然落库。
func (s *chatService) StreamResponse(ctx context.Context, query string, sessionID string, temperature *float64, writer llm.MessageWriter, shouldStop func() bool) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("查询文本为空: %w", apperr.ErrInvalidInput)
	}
	if temperature != nil && (*temperature < 0 || *temperature > 1) {
		return fmt.Errorf("temperature 必须在 [0,1] 范围内: %w", apperr.ErrInvalidInput)
	}

	queryID := uuid.NewString()
	start := time.Now()
	log.Infow("查询回合状态变更", "query_id", queryID, "state", turnReceived)

	// 1. 检索上下文
	log.Infow("查询回合状态变更", "query_id", queryID, "state", turnRetrieving)
	results, err := s.retrievalService.Retrieve(ctx, query, 0)
	if err != nil {
		log.Infow("查询回合状态变更", "query_id", queryID, "state", turnFailed, "error", err.Error())
		return fmt.Errorf("检索上下文失败: %w", err)
	}

	// 2. 构建 system 消息与历史
	contextText := s.buildContextText(results)
	systemMsg := s.buildSystemMessage(contextText)
	history, err := s.loadHistory(ctx, sessionID)
	if err != nil {
		log.Errorf("加载对话历史失败: %v", err)
		history = []model.ChatMessage{}
	}
	messages := s.composeMessages(systemMsg, history, query)

	// 拦截 writer 以捕获完整答案，并把原始增量包装为 JSON 分块
	answerBuilder := &strings.Builder{}
	interceptor := &streamInterceptor{writer: writer, captured: answerBuilder, shouldStop: shouldStop}

	// 3. 调用 LLM 流式生成
	log.Infow("查询回合状态变更", "query_id", queryID, "state", turnGenerating)
	var llmMsgs []llm.Message
	for _, m := range messages {
		llmMsgs = append(llmMsgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	err = s.llmClient.StreamChatMessages(ctx, llmMsgs, s.buildGenerationParams(temperature), interceptor)
	if err != nil {
		log.Infow("查询回合状态变更", "query_id", queryID, "state", turnFailed, "error", err.Error())
		return fmt.Errorf("生成回答失败: %w", apperr.Upstream(err))
	}

	latency := time.Since(start).Seconds()
	fullAnswer := answerBuilder.String()
	sources := buildSources(results)

	// 4. 落库。只有成功的回合才写 QueryRecord。
	record := &model.QueryRecord{
		QueryID:        queryID,
		QueryText:      query,
		ResponseText:   fullAnswer,
		LatencySeconds: latency,
		ModelName:      s.llmCfg.Model,
		Sources:        sources,
	}
	persisted := true
	if err := s.feedbackRepo.CreateQueryRecord(record); err != nil {
		// 记录失败不打断已完成的流式响应，但要在完成帧中告知调用方
		persisted = false
		log.Errorf("保存问答记录失败, query_id: %s, error: %v", queryID, err)
	}

	// 5. 发送完成帧并保存对话历史
	sendCompletion(writer, queryID, latency, sources, persisted)
	if len(fullAnswer) > 0 {
		// 使用后台上下文，即使原始请求被取消也要保存成功生成的答案
		if err := s.addMessageToConversation(context.Background(), sessionID, query, fullAnswer); err != nil {
			log.Errorf("保存对话历史失败: %v", err)
		}
	}

	log.Infow("查询回合状态变更", "query_id", queryID, "state", turnComplete, "latency_seconds", latency)
	return nil
}

// buildContextText 将检索结果拼装为带文件名标注的上下文块。
func (s *chatService) buildContextText(results []model.RetrievedChunk) string {
	if len(results) == 0 {
		return ""
	}
	var contextBuilder strings.Builder
	for i, r := range results {
		fileLabel := r.FileName
		if fileLabel == "" {
			fileLabel = "unknown"
		}
		contextBuilder.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, fileLabel, r.Content))
	}
	return contextBuilder.String()
}

func (s *chatService) buildSystemMessage(contextText string) string {
	rules := s.llmCfg.Prompt.Rules
	refStart := s.llmCfg.Prompt.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := s.llmCfg.Prompt.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}
	var sys strings.Builder
	if rules != "" {
		sys.WriteString(rules)
		sys.WriteString("\n\n")
	}
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if contextText != "" {
		sys.WriteString(contextText)
	} else {
		noRes := s.llmCfg.Prompt.NoResultText
		if noRes == "" {
			noRes = "（本轮无检索结果，请直接回答并说明没有引用依据）"
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

func (s *chatService) loadHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	convID, err := s.conversationRepo.GetOrCreateConversationID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.conversationRepo.GetConversationHistory(ctx, convID)
}

func (s *chatService) composeMessages(systemMsg string, history []model.ChatMessage, userInput string) []model.ChatMessage {
	msgs := make([]model.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, model.ChatMessage{Role: "system", Content: systemMsg})
	msgs = append(msgs, history...)
	msgs = append(msgs, model.ChatMessage{Role: "user", Content: userInput})
	return msgs
}

// addMessageToConversation 管理 Redis 中的对话历史。
func (s *chatService) addMessageToConversation(ctx context.Context, sessionID, question, answer string) error {
	conversationID, err := s.conversationRepo.GetOrCreateConversationID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to get or create conversation ID: %w", err)
	}

	history, err := s.conversationRepo.GetConversationHistory(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to get conversation history: %w", err)
	}

	history = append(history, model.ChatMessage{
		Role:      "user",
		Content:   question,
		Timestamp: time.Now(),
	})
	history = append(history, model.ChatMessage{
		Role:      "assistant",
		Content:   answer,
		Timestamp: time.Now(),
	})

	return s.conversationRepo.UpdateConversationHistory(ctx, conversationID, history)
}

// buildSources 将检索结果转为完成帧与落库用的来源列表，片段截断到 150 字符。
func buildSources(results []model.RetrievedChunk) []model.QuerySource {
	sources := make([]model.QuerySource, 0, len(results))
	for _, r := range results {
		snippet := r.Content
		if runes := []rune(snippet); len(runes) > sourceSnippetLen {
			snippet = string(runes[:sourceSnippetLen]) + "…"
		}
		sources = append(sources, model.QuerySource{
			FileName: r.FileName,
			Content:  snippet,
			Score:    r.Score,
		})
	}
	return sources
}

// buildGenerationParams 组装生成参数，调用方传入的温度优先于配置默认值。
func (s *chatService) buildGenerationParams(temperature *float64) *llm.GenerationParams {
	var gp llm.GenerationParams
	if temperature != nil {
		t := *temperature
		gp.Temperature = &t
	} else if s.llmCfg.Generation.Temperature != 0 {
		t := s.llmCfg.Generation.Temperature
		gp.Temperature = &t
	}
	if s.llmCfg.Generation.TopP != 0 {
		p := s.llmCfg.Generation.TopP
		gp.TopP = &p
	}
	if s.llmCfg.Generation.MaxTokens != 0 {
		m := s.llmCfg.Generation.MaxTokens
		gp.MaxTokens = &m
	}
	if gp.Temperature == nil && gp.TopP == nil && gp.MaxTokens == nil {
		return nil
	}
	return &gp
}

// streamInterceptor 封装下游 writer，捕获写入的增量以拼出完整答案。
type streamInterceptor struct {
	writer     llm.MessageWriter
	captured   *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *streamInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.captured.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.writer.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON，携带 query_id、耗时与来源列表。
// persisted 为 false 表示问答记录未能落库，后续反馈可能无法关联。
func sendCompletion(writer llm.MessageWriter, queryID string, latency float64, sources []model.QuerySource, persisted bool) {
	notif := map[string]interface{}{
		"type":            "completion",
		"status":          "finished",
		"query_id":        queryID,
		"latency_seconds": latency,
		"sources":         sources,
		"persisted":       persisted,
		"timestamp":       time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = writer.WriteMessage(websocket.TextMessage, b)
}
