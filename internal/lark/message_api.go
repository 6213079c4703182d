package lark

import (
	"context"
	"fmt"
	"io"

	"github.com/garyjia/report-dispatch/internal/dispatch"
	larkcontact "github.com/larksuite/oapi-sdk-go/v3/service/contact/v3"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// Receive ID types accepted by the IM API
const (
	ReceiveIDTypeOpenID  = "open_id"
	ReceiveIDTypeUserID  = "user_id"
	ReceiveIDTypeUnionID = "union_id"
	ReceiveIDTypeEmail   = "email"
)

// MessageAPI handles Lark messaging operations
type MessageAPI struct {
	client *Client
	logger *zap.Logger
}

// NewMessageAPI creates a new message API handler
func NewMessageAPI(client *Client, logger *zap.Logger) *MessageAPI {
	return &MessageAPI{
		client: client,
		logger: logger,
	}
}

// SendMessage sends a message to a user or group. A delivery key on ctx is
// sent as the request uuid; Lark creates one message per uuid within an hour.
func (m *MessageAPI) SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error) {
	body := larkIm.NewCreateMessageReqBodyBuilder().
		ReceiveId(receiveID).
		MsgType(msgType).
		Content(content)
	if key := dispatch.DeliveryKey(ctx); key != "" {
		body = body.Uuid(key)
	}

	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDType).
		Body(body.Build()).
		Build()

	resp, err := m.client.client.Im.Message.Create(ctx, req)
	if err != nil {
		m.logger.Error("Failed to send message",
			zap.String("receive_id", receiveID),
			zap.Error(err))
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		m.logger.Error("API returned failure",
			zap.String("receive_id", receiveID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return "", &APIError{Op: "send message", Code: resp.Code, Msg: resp.Msg}
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}

	m.logger.Info("Message sent successfully",
		zap.String("message_id", messageID),
		zap.String("receive_id", receiveID))

	return messageID, nil
}

// UploadImage uploads an image for use in messages and returns its image key
func (m *MessageAPI) UploadImage(ctx context.Context, image io.Reader) (string, error) {
	req := larkIm.NewCreateImageReqBuilder().
		Body(larkIm.NewCreateImageReqBodyBuilder().
			ImageType("message").
			Image(image).
			Build()).
		Build()

	resp, err := m.client.client.Im.Image.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	if !resp.Success() {
		m.logger.Error("Image upload rejected",
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return "", &APIError{Op: "upload image", Code: resp.Code, Msg: resp.Msg}
	}
	if resp.Data == nil || resp.Data.ImageKey == nil || *resp.Data.ImageKey == "" {
		return "", fmt.Errorf("failed to upload image: empty image key")
	}

	return *resp.Data.ImageKey, nil
}

// ResolveMobile looks up the user ID for a phone number. The ID type is the
// client's configured receive ID type.
func (m *MessageAPI) ResolveMobile(ctx context.Context, mobile string) (string, error) {
	req := larkcontact.NewBatchGetIdUserReqBuilder().
		UserIdType(m.client.ReceiveIDType()).
		Body(larkcontact.NewBatchGetIdUserReqBodyBuilder().
			Mobiles([]string{mobile}).
			IncludeResigned(false).
			Build()).
		Build()

	resp, err := m.client.client.Contact.User.BatchGetId(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to resolve mobile: %w", err)
	}
	if !resp.Success() {
		return "", &APIError{Op: "resolve mobile", Code: resp.Code, Msg: resp.Msg}
	}

	if resp.Data != nil {
		for _, user := range resp.Data.UserList {
			if user != nil && user.UserId != nil && *user.UserId != "" {
				return *user.UserId, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrRecipientNotFound, mobile)
}
