package redactor

import (
	"context"
	"fmt"
	"strings"

	"pii-redactor/internal/detector"
	"pii-redactor/internal/docstore"
)

const chatInstruction = `The document below has had its personal information masked.
When you answer, copy any masked token (for example [[PII:TYPE:id]]) into your reply exactly as written.
Tokens are restored to their original values automatically afterwards.

`

// ChatMessage is one earlier turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest asks the chat model a question, optionally about a stored
// document whose masked text is given to the model as context.
type ChatRequest struct {
	DocID   string        `json:"doc_id,omitempty"`
	Message string        `json:"message"`
	History []ChatMessage `json:"history,omitempty"`
}

// ChatReply carries the model's answer with tokens restored. ReplyMasked
// holds the raw answer and is set only when a restore took place.
type ChatReply struct {
	Reply       string `json:"reply"`
	ReplyMasked string `json:"reply_masked,omitempty"`
}

// Chat sends only masked text to the chat model, so it is gated by the same
// remote-access policy as the remote detector.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (ChatReply, error) {
	if strings.TrimSpace(req.Message) == "" {
		return ChatReply{}, ErrEmptyMessage
	}
	if !s.RemoteAllowed() {
		return ChatReply{}, detector.ErrRemoteDisabled
	}
	if s.chat == nil {
		return ChatReply{}, fmt.Errorf("%w: no chat model configured", detector.ErrRemoteUnavailable)
	}

	var (
		entry  docstore.Entry
		system string
	)
	if req.DocID != "" {
		var err error
		if entry, err = s.store.Get(req.DocID); err != nil {
			return ChatReply{}, err
		}
		system = chatInstruction + entry.MaskedText
	}

	reply, err := s.chat.Complete(ctx, system, chatPrompt(req))
	if err != nil {
		s.metrics.RecordRemoteCall("error")
		return ChatReply{}, fmt.Errorf("%w: %w", detector.ErrRemoteUnavailable, err)
	}
	s.metrics.RecordRemoteCall("ok")

	if !entry.HasEnvelope() {
		return ChatReply{Reply: reply}, nil
	}
	restored, _, err := s.RestoreReply(req.DocID, reply)
	if err != nil {
		return ChatReply{}, err
	}
	s.log.Infof("chat", "doc=%s reply restored (%d tokens)", req.DocID, strings.Count(reply, "[[PII:"))
	return ChatReply{Reply: restored, ReplyMasked: reply}, nil
}

// chatPrompt flattens the history and the new message into one prompt.
func chatPrompt(req ChatRequest) string {
	if len(req.History) == 0 {
		return req.Message
	}
	var b strings.Builder
	for _, m := range req.History {
		role := "assistant"
		if m.Role == "user" {
			role = "user"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, m.Content)
	}
	fmt.Fprintf(&b, "user: %s", req.Message)
	return b.String()
}
