package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sync"

	"github.com/mrz1836/postmark"
)

var (
	ErrInvalidConfig = errors.New("invalid notification config")
	ErrSendFailed    = errors.New("failed to send notification")
	ErrNoAddress     = errors.New("recipient has no email address")
)

// PostmarkConfig configures PostmarkSender.
type PostmarkConfig struct {
	ServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	AccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	From         string `env:"POSTMARK_FROM"`
	ReplyTo      string `env:"OSF_SUPPORT_EMAIL"`
}

// PostmarkSender delivers through Postmark's transactional API.
type PostmarkSender struct {
	client *postmark.Client
	cfg    PostmarkConfig
}

var _ Sender = (*PostmarkSender)(nil)

func NewPostmarkSender(cfg PostmarkConfig) (*PostmarkSender, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}

	if cfg.AccountToken == "" {
		return nil, fmt.Errorf("%w: postmark account token is required", ErrInvalidConfig)
	}

	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("%w: sender address: %w", ErrInvalidConfig, err)
	}

	return &PostmarkSender{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		cfg:    cfg,
	}, nil
}

func (s *PostmarkSender) Send(ctx context.Context, msg Message) error {
	if msg.To.Email == "" {
		return ErrNoAddress
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:       s.cfg.From,
		ReplyTo:    s.cfg.ReplyTo,
		To:         msg.To.Email,
		Subject:    msg.Subject,
		Tag:        string(msg.Template),
		TextBody:   msg.Body,
		TrackOpens: false,
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}

	if resp.ErrorCode > 0 {
		return errors.Join(ErrSendFailed, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}

	return nil
}

// LogSender writes messages to a logger instead of sending them.
type LogSender struct {
	Logger *slog.Logger
}

var _ Sender = LogSender{}

func (s LogSender) Send(ctx context.Context, msg Message) error {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}

	log.InfoContext(ctx, "notification",
		"template", string(msg.Template),
		"to", msg.To.UserID,
		"subject", msg.Subject)

	return nil
}

// Recorder keeps every message it is given. Tests use it as a Sender.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	// Fail, when set, is returned by Send and nothing is recorded.
	Fail error
}

var _ Sender = (*Recorder)(nil)

func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Fail != nil {
		return r.Fail
	}

	r.messages = append(r.messages, msg)

	return nil
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Message, len(r.messages))
	copy(out, r.messages)

	return out
}

// To returns the ids of recipients of tpl in send order.
func (r *Recorder) To(tpl Template) []string {
	var ids []string

	for _, m := range r.Messages() {
		if m.Template == tpl {
			ids = append(ids, m.To.UserID)
		}
	}

	return ids
}

// Reset drops every recorded message.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = nil
}
