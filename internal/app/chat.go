package app

import (
	"context"
	"strings"

	"barcamp/api/internal/matrix"
	"barcamp/api/internal/model"
	"barcamp/api/internal/rbac"
)

const (
	ReactionAccepted = "✅"
	ReactionRejected = "❌"
	ReactionLocked   = "🔒️"
)

const chatHelp = "Hi, I'm the barcamp bot! Suggest a topic by writing `!submit <title>: <description>`.\n" +
	"I will react with these emoji:\n" +
	"- ✅ if your submission was handled\n" +
	"- ❌ if there was an error\n" +
	"- 🔒 if submissions are locked and you may not submit"

// ChatReply tells the chat front end how to answer a message. An empty
// Reaction means the message is ignored.
type ChatReply struct {
	Reaction   string                 `json:"reaction,omitempty"`
	Notice     string                 `json:"notice,omitempty"`
	Topic      *model.Topic           `json:"topic,omitempty"`
	Submission *model.TopicSubmission `json:"submission,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// HandleChatMessage answers a "!submit" or "!help" chat message from sender.
// Submissions are ignored until the grid is set up.
func (s *Service) HandleChatMessage(ctx context.Context, sender, body string) ChatReply {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return ChatReply{}
	}
	switch fields[0] {
	case "!help":
		return ChatReply{Reaction: ReactionAccepted, Notice: chatHelp}
	case "!submit":
	default:
		return ChatReply{}
	}

	if !s.grid.Loaded() {
		return ChatReply{}
	}
	if err := s.checkUnlocked(ctx, Session{UserID: sender, Role: rbac.RoleParticipant}); err != nil {
		return ChatReply{Reaction: ReactionLocked, Error: err.Error()}
	}
	sub, t, err := s.topics.SubmitFromChat(ctx, sender, body)
	if err != nil {
		if isNotInitialized(err) {
			return ChatReply{}
		}
		s.logger.Info("chat submission rejected", "sender", sender, "error", err)
		return ChatReply{Reaction: ReactionRejected, Error: err.Error()}
	}
	return ChatReply{Reaction: ReactionAccepted, Topic: &t, Submission: &sub}
}

// ChatSource delivers room messages and accepts replies.
type ChatSource interface {
	WatchMessages(ctx context.Context, prefix string) (<-chan matrix.Message, error)
	React(ctx context.Context, eventID, key string) error
	Notice(ctx context.Context, body string) (string, error)
}

// ServeChat answers chat commands from source until ctx ends.
func (s *Service) ServeChat(ctx context.Context, source ChatSource) error {
	messages, err := source.WatchMessages(ctx, "!")
	if err != nil {
		return err
	}
	go func() {
		for msg := range messages {
			reply := s.HandleChatMessage(ctx, msg.Sender, msg.Body)
			if reply.Notice != "" {
				if _, err := source.Notice(ctx, reply.Notice); err != nil {
					s.logger.Warn("chat notice failed", "error", err)
				}
			}
			if reply.Reaction == "" {
				continue
			}
			if err := source.React(ctx, msg.EventID, reply.Reaction); err != nil {
				s.logger.Warn("chat reaction failed", "event", msg.EventID, "error", err)
			}
		}
	}()
	return nil
}
