package lark

import (
	"context"
	"fmt"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// Config holds Lark app credentials
type Config struct {
	AppID     string
	AppSecret string
	Timeout   time.Duration
}

// APIError is a non-success response from the Lark open platform
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lark api error %d: %s", e.Code, e.Msg)
}

// SDKClient sends IM messages through the Lark SDK
type SDKClient struct {
	client *lark.Client
	logger *zap.Logger
}

// NewSDKClient creates a client with tenant token caching enabled
func NewSDKClient(cfg Config, logger *zap.Logger) *SDKClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelWarn),
		lark.WithEnableTokenCache(true),
		lark.WithReqTimeout(timeout),
	)
	return &SDKClient{client: client, logger: logger}
}

// SendMessage posts content to one receiver and returns the Lark message id
func (c *SDKClient) SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error) {
	body := larkim.NewCreateMessageReqBodyBuilder().
		ReceiveId(receiveID).
		MsgType(msgType).
		Content(content).
		Build()
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDType).
		Body(body).
		Build()

	resp, err := c.client.Im.Message.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to send message to %s: %w", receiveID, err)
	}
	if !resp.Success() {
		return "", &APIError{Code: resp.Code, Msg: resp.Msg}
	}
	if resp.Data == nil || resp.Data.MessageId == nil {
		c.logger.Warn("Lark accepted message without an id", zap.String("receive_id", receiveID))
		return "", nil
	}
	return *resp.Data.MessageId, nil
}
