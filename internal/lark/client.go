package lark

import (
	"errors"
	"fmt"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"go.uber.org/zap"
)

// ErrRecipientNotFound is returned when a phone number maps to no Lark user
var ErrRecipientNotFound = errors.New("recipient not found")

// Lark error codes that are worth retrying
const (
	codeRateLimited   = 99991400
	codeIMRateLimited = 230020
)

// APIError is a non-zero code returned by the Lark open platform
type APIError struct {
	Op   string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: API error: code=%d, msg=%s", e.Op, e.Code, e.Msg)
}

// Temporary reports whether the call may succeed if retried
func (e *APIError) Temporary() bool {
	switch e.Code {
	case codeRateLimited, codeIMRateLimited:
		return true
	}
	return false
}

// Client wraps the Lark SDK client
type Client struct {
	client        *lark.Client
	receiveIDType string
	logger        *zap.Logger
}

// Config holds Lark client configuration
type Config struct {
	AppID     string
	AppSecret string
	// ReceiveIDType is the ID type phone numbers are resolved to (open_id, user_id or union_id)
	ReceiveIDType string
	APITimeout    time.Duration
	// BaseURL overrides the open platform endpoint
	BaseURL string
}

// NewClient creates a new Lark client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	opts := []lark.ClientOptionFunc{
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	}
	if cfg.APITimeout > 0 {
		opts = append(opts, lark.WithReqTimeout(cfg.APITimeout))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lark.WithOpenBaseUrl(cfg.BaseURL))
	}

	receiveIDType := cfg.ReceiveIDType
	if receiveIDType == "" {
		receiveIDType = ReceiveIDTypeOpenID
	}

	return &Client{
		client:        lark.NewClient(cfg.AppID, cfg.AppSecret, opts...),
		receiveIDType: receiveIDType,
		logger:        logger,
	}
}

// GetClient returns the underlying Lark SDK client
func (c *Client) GetClient() *lark.Client {
	return c.client
}

// ReceiveIDType returns the ID type used for resolved recipients
func (c *Client) ReceiveIDType() string {
	return c.receiveIDType
}
