package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/garyjia/report-dispatch/pkg/utils"
	"go.uber.org/zap"
)

// imAPI is the subset of MessageAPI used by Messenger
type imAPI interface {
	SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error)
	UploadImage(ctx context.Context, image io.Reader) (string, error)
	ResolveMobile(ctx context.Context, mobile string) (string, error)
}

// Messenger delivers report images as Lark post messages
type Messenger struct {
	api           imAPI
	receiveIDType string
	locale        string
	logger        *zap.Logger
}

// NewMessenger creates a new Lark message sender adapter
func NewMessenger(larkClient *Client, logger *zap.Logger) *Messenger {
	return &Messenger{
		api:           NewMessageAPI(larkClient, logger),
		receiveIDType: larkClient.ReceiveIDType(),
		locale:        "en_us",
		logger:        logger,
	}
}

type postElement struct {
	Tag      string `json:"tag"`
	Text     string `json:"text,omitempty"`
	ImageKey string `json:"image_key,omitempty"`
}

type postBody struct {
	Title   string          `json:"title"`
	Content [][]postElement `json:"content"`
}

// SendImage uploads the image at imagePath and posts it with caption to
// address. Addresses may be an e-mail, an open_id or an E.164 phone number.
func (m *Messenger) SendImage(ctx context.Context, address, imagePath, caption string) (string, error) {
	idType, receiverID, err := m.resolveRecipient(ctx, address)
	if err != nil {
		return "", err
	}

	f, err := os.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	imageKey, err := m.api.UploadImage(ctx, f)
	if err != nil {
		return "", err
	}

	content, err := buildPostContent(m.locale, imageKey, caption)
	if err != nil {
		return "", err
	}

	messageID, err := m.api.SendMessage(ctx, idType, receiverID, "post", content)
	if err != nil {
		return "", err
	}

	m.logger.Debug("Report image posted",
		zap.String("receive_id_type", idType),
		zap.String("image_key", imageKey),
		zap.String("message_id", messageID))

	return messageID, nil
}

func (m *Messenger) resolveRecipient(ctx context.Context, address string) (string, string, error) {
	switch {
	case utils.IsEmailAddress(address):
		return ReceiveIDTypeEmail, address, nil
	case utils.IsOpenID(address):
		return ReceiveIDTypeOpenID, address, nil
	}

	id, err := m.api.ResolveMobile(ctx, address)
	if err != nil {
		return "", "", err
	}
	return m.receiveIDType, id, nil
}

func buildPostContent(locale, imageKey, caption string) (string, error) {
	lines := [][]postElement{{{Tag: "img", ImageKey: imageKey}}}
	if caption != "" {
		lines = append(lines, []postElement{{Tag: "text", Text: caption}})
	}

	data, err := json.Marshal(map[string]postBody{
		locale: {Content: lines},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal post content: %w", err)
	}
	return string(data), nil
}
