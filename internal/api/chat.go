package api

import (
	"context"
	stdErrors "errors"
	"net/http"
	"strings"

	xerrors "UCP-Commerce/internal/errors"
)

// 对话失败时的固定话术，与前端约定保持一致。
const (
	chatTimeoutReply = "I'm sorry, the search is taking too long. Please try again."
	chatFailureReply = "I'm sorry, I'm having trouble connecting to the shops right now. Please try again."
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type chatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.agents == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "未配置导购智能体"))
		return
	}

	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, r, xerrors.New(xerrors.CodeValidation, "消息内容不能为空"))
		return
	}

	// 健康探测快速路径，不经过模型。
	if strings.EqualFold(strings.TrimSpace(req.Message), "ping") {
		writeJSON(w, http.StatusOK, chatResponse{Response: "pong 🏓", ConversationID: req.ConversationID})
		return
	}

	ag, conversationID := s.agents.Acquire(req.ConversationID)

	ctx, cancel := context.WithTimeout(r.Context(), s.chatTimeout)
	defer cancel()

	reply, err := ag.Chat(ctx, req.Message)
	if err != nil {
		// 对话失败不向前端抛错误码，降级为固定话术。
		reply = chatFailureReply
		if xerrors.IsCode(err, xerrors.CodeTimeout) || stdErrors.Is(err, context.DeadlineExceeded) {
			reply = chatTimeoutReply
		}
		s.log.Warn("chat failed", "conversation", conversationID, "err", err)
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: reply, ConversationID: conversationID})
}

func (s *Server) handleChatReset(w http.ResponseWriter, r *http.Request) {
	if s.agents == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "未配置导购智能体"))
		return
	}

	var req chatRequest
	// 请求体可为空，此时清空全部会话。
	_ = decodeBody(r, &req)
	if req.ConversationID != "" {
		s.agents.Reset(req.ConversationID)
	} else {
		s.agents.ResetAll()
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Conversation reset",
	})
}
