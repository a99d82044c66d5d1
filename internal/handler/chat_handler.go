package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"vectrieve-go/internal/apperr"
	"vectrieve-go/internal/service"
	"vectrieve-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 问答连接。
type ChatHandler struct {
	chatService service.ChatService
	// 每连接停止标志
	stopFlags sync.Map // key: session pointer string, value: bool
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// chatRequest 是 JSON 形式的问答消息，temperature 为本回合的可选采样温度。
type chatRequest struct {
	Type        string   `json:"type"`
	Query       string   `json:"query"`
	Temperature *float64 `json:"temperature"`
}

// parseChatMessage 解析一条 WebSocket 文本消息。
// JSON 对象按 chatRequest 解析，{"type":"stop"} 返回停止指令；
// 其他内容整体视为纯文本问题。
func parseChatMessage(message []byte) (query string, temperature *float64, isStop bool) {
	if len(message) > 0 && message[0] == '{' {
		var req chatRequest
		if err := json.Unmarshal(message, &req); err == nil {
			if req.Type == "stop" {
				return "", nil, true
			}
			if req.Query != "" {
				return req.Query, req.Temperature, false
			}
		}
	}
	return string(message), nil, false
}

// Handle 处理一个传入的 WebSocket 连接。
// 每条文本消息是一个问题，可携带可选的 temperature；
// {"type":"stop"} 中断当前回合的下发。
func (h *ChatHandler) Handle(c *gin.Context) {
	sessionID := c.DefaultQuery("session", c.ClientIP())

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立, session: %s", sessionID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}
		log.Infof("收到 WebSocket 消息: %s", string(message))

		query, temperature, isStop := parseChatMessage(message)
		if isStop {
			h.stopFlags.Store(sessionKey(conn), true)
			resp := map[string]interface{}{
				"type":      "stop",
				"message":   "响应已停止",
				"timestamp": time.Now().UnixMilli(),
			}
			b, _ := json.Marshal(resp)
			_ = conn.WriteMessage(websocket.TextMessage, b)
			continue
		}

		shouldStop := func() bool {
			v, ok := h.stopFlags.Load(sessionKey(conn))
			return ok && v.(bool)
		}
		// 清除上一回合的标志
		h.stopFlags.Delete(sessionKey(conn))

		err = h.chatService.StreamResponse(c.Request.Context(), query, sessionID, temperature, conn, shouldStop)
		if err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			if errors.Is(err, apperr.ErrInvalidInput) {
				// 参数错误不关闭连接，提示后等待下一条消息
				errResp := map[string]string{"error": err.Error()}
				b, _ := json.Marshal(errResp)
				_ = conn.WriteMessage(websocket.TextMessage, b)
				continue
			}
			errResp := map[string]string{"error": "服务暂时不可用，请稍后重试"}
			b, _ := json.Marshal(errResp)
			_ = conn.WriteMessage(websocket.TextMessage, b)
			break
		}
	}
}

func sessionKey(conn *websocket.Conn) string {
	return fmt.Sprintf("%p", conn)
}
