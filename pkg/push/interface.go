package push

import (
	"context"
	"errors"
	"fmt"
)

var ErrNoProvider = errors.New("no push provider for platform")

type PushProvider interface {
	SendNotification(ctx context.Context, request *NotificationRequest) (*NotificationResponse, error)
}

type NotificationRequest struct {
	Token       string            `json:"token"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	Sound       string            `json:"sound,omitempty"`
	Priority    string            `json:"priority,omitempty"`
	TTL         int               `json:"ttl,omitempty"` // seconds
	CollapseKey string            `json:"collapse_key,omitempty"`
	Android     *AndroidConfig    `json:"android,omitempty"`
}

type NotificationResponse struct {
	MessageID string `json:"message_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Token     string `json:"token,omitempty"`
}

type AndroidConfig struct {
	Priority  string `json:"priority,omitempty"`
	Sound     string `json:"sound,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// Router sends through the provider registered for the device platform.
type Router struct {
	providers map[string]PushProvider
}

func NewRouter() *Router {
	return &Router{providers: make(map[string]PushProvider)}
}

func (r *Router) Register(platform string, provider PushProvider) {
	r.providers[platform] = provider
}

func (r *Router) Enabled() bool {
	return len(r.providers) > 0
}

func (r *Router) Send(ctx context.Context, platform string, request *NotificationRequest) (*NotificationResponse, error) {
	provider, ok := r.providers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoProvider, platform)
	}
	return provider.SendNotification(ctx, request)
}
