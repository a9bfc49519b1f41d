// Package client talks to the chat backend's REST API. It implements chat.API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"chatsync/internal/auth"
	"chatsync/internal/models"

	"github.com/gofiber/fiber/v2"
)

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat api: %d %s", e.Code, e.Message)
}

// Unwrap lets errors.Is(err, auth.ErrAuthRequired) match rejected tokens.
func (e *StatusError) Unwrap() error {
	if e.Code == fiber.StatusUnauthorized {
		return auth.ErrAuthRequired
	}
	return nil
}

type Option func(*Client)

// WithTimeout bounds requests whose context carries no deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

type Client struct {
	baseURL string
	timeout time.Duration
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type result struct {
	code int
	body []byte
	errs []error
}

// do sends one request. A nil body sends no payload; out may be nil.
func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var a *fiber.Agent
	switch method {
	case fiber.MethodGet:
		a = fiber.Get(c.baseURL + path)
	case fiber.MethodPost:
		a = fiber.Post(c.baseURL + path)
	default:
		return fmt.Errorf("chat api: unsupported method %s", method)
	}
	if token != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	if body != nil {
		a.JSON(body)
	}
	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	a.Timeout(timeout)

	done := make(chan result, 1)
	go func() {
		code, b, errs := a.Bytes()
		done <- result{code: code, body: b, errs: errs}
	}()

	var res result
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res = <-done:
	}
	if len(res.errs) > 0 {
		return fmt.Errorf("chat api %s %s: %w", method, path, errors.Join(res.errs...))
	}
	if res.code < 200 || res.code > 299 {
		return &StatusError{Code: res.code, Message: errorMessage(res.body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res.body, out); err != nil {
		return fmt.Errorf("chat api %s %s: decode: %w", method, path, err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	var u models.User
	if err := c.do(ctx, fiber.MethodPost, "/api/register", "", req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (*models.AuthResponse, error) {
	var res models.AuthResponse
	req := models.LoginRequest{Username: username, Password: password}
	if err := c.do(ctx, fiber.MethodPost, "/api/login", "", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.AuthResponse, error) {
	var res models.AuthResponse
	req := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, fiber.MethodPost, "/api/refresh", "", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ListUsers(ctx context.Context, token string) ([]models.UserListItem, error) {
	var users []models.UserListItem
	if err := c.do(ctx, fiber.MethodGet, "/api/users", token, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) ListConversations(ctx context.Context, token string) ([]models.Conversation, error) {
	var convs []models.Conversation
	if err := c.do(ctx, fiber.MethodGet, "/api/conversations", token, nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (c *Client) GetOrCreateConversation(ctx context.Context, token, peerID string) (*models.Conversation, error) {
	var res models.ConversationResponse
	req := models.CreateConversationRequest{PeerID: peerID}
	if err := c.do(ctx, fiber.MethodPost, "/api/conversations", token, req, &res); err != nil {
		return nil, err
	}
	return &res.Conversation, nil
}

func (c *Client) ListMessages(ctx context.Context, token, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	if err := c.do(ctx, fiber.MethodGet, conversationPath(conversationID, "messages"), token, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) SendMessage(ctx context.Context, token, conversationID, content, clientID string) (*models.Message, error) {
	var msg models.Message
	req := models.SendMessageRequest{Content: content, ClientID: clientID}
	if err := c.do(ctx, fiber.MethodPost, conversationPath(conversationID, "messages"), token, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) MarkRead(ctx context.Context, token, conversationID string) error {
	return c.do(ctx, fiber.MethodPost, conversationPath(conversationID, "read"), token, nil, nil)
}

func conversationPath(conversationID, suffix string) string {
	return "/api/conversations/" + url.PathEscape(conversationID) + "/" + suffix
}
