package topic

import (
	"context"
	"strings"

	"barcamp/api/internal/model"
)

const submitCommand = "!submit"

// ChatSubmission is a topic proposed through a chat message.
type ChatSubmission struct {
	Title       string
	Description string
}

// ParseChatCommand reads "!submit <title>: <description>". Only the first
// colon separates the title from the description.
func ParseChatCommand(body string) (ChatSubmission, error) {
	fields := strings.Fields(body)
	if len(fields) == 0 || fields[0] != submitCommand {
		return ChatSubmission{}, model.Validation(model.CodeInvalidChatCommand, "message is not a %s command", submitCommand)
	}
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(body), submitCommand))
	title, description, ok := strings.Cut(rest, ":")
	if !ok {
		return ChatSubmission{}, model.Validation(model.CodeInvalidChatCommand, "expected %s <title>: <description>", submitCommand)
	}
	return ChatSubmission{
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
	}, nil
}

// SubmitFromChat parses a chat message and publishes it as a topic by sender.
func (s *Store) SubmitFromChat(ctx context.Context, sender, body string) (model.TopicSubmission, model.Topic, error) {
	cmd, err := ParseChatCommand(body)
	if err != nil {
		return model.TopicSubmission{}, model.Topic{}, err
	}
	if _, err := ValidateTitle(cmd.Title); err != nil {
		return model.TopicSubmission{}, model.Topic{}, err
	}
	if _, err := ValidateDescription(cmd.Description); err != nil {
		return model.TopicSubmission{}, model.Topic{}, err
	}
	return s.Publish(ctx, sender, cmd.Title, cmd.Description)
}
