package sms

import (
	"context"
	"errors"
)

var ErrNotConfigured = errors.New("sms provider not configured")

type SMSProvider interface {
	SendSMS(ctx context.Context, request *SMSRequest) (*SMSResponse, error)
}

type SMSRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"message"`
	Type    string `json:"type"` // transactional, promotional, otp
}

type SMSResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// NoopProvider drops every message. Used when SMS is disabled.
type NoopProvider struct{}

func (NoopProvider) SendSMS(ctx context.Context, request *SMSRequest) (*SMSResponse, error) {
	return &SMSResponse{Status: "skipped"}, nil
}
