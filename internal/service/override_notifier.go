package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
)

// OverrideNotice describes one operator override for the audit mail.
type OverrideNotice struct {
	Operator string
	Emails   []string
	Bulk     bool
	At       time.Time
}

// OverrideNotifier reports operator overrides to the operations mailbox.
type OverrideNotifier interface {
	NotifyOverride(ctx context.Context, notice OverrideNotice) error
}

// NoopOverrideNotifier is used when no mail transport is configured.
type NoopOverrideNotifier struct {
	Logger zerolog.Logger
}

func (n *NoopOverrideNotifier) NotifyOverride(ctx context.Context, notice OverrideNotice) error {
	n.Logger.Debug().
		Str("operator", notice.Operator).
		Int("count", len(notice.Emails)).
		Msg("noop override notification")
	return nil
}

// ResendOverrideNotifier sends the audit mail via the Resend REST API.
type ResendOverrideNotifier struct {
	from   string
	to     string
	client *resend.Client
}

func NewResendOverrideNotifier(apiKey, from, to string) (*ResendOverrideNotifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	if from == "" {
		return nil, fmt.Errorf("notifier from address is required")
	}
	if to == "" {
		return nil, fmt.Errorf("notifier ops address is required")
	}
	return &ResendOverrideNotifier{
		from:   from,
		to:     to,
		client: resend.NewClient(apiKey),
	}, nil
}

func (n *ResendOverrideNotifier) NotifyOverride(ctx context.Context, notice OverrideNotice) error {
	if len(notice.Emails) == 0 {
		return nil
	}

	subject, text := renderOverrideNotice(notice)
	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{n.to},
		Subject: subject,
		Text:    text,
	}
	options := &resend.SendEmailOptions{
		IdempotencyKey: fmt.Sprintf("override:%s:%d", notice.Operator, notice.At.UnixNano()),
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		_, err := n.client.Emails.SendWithOptions(ctx, params, options)
		if err == nil {
			return nil
		}
		lastErr = err

		if wait, ok := resendRetryDelay(err, attempt); ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		return fmt.Errorf("resend send failed: %w", err)
	}

	return fmt.Errorf("resend send failed after retries: %w", lastErr)
}

func renderOverrideNotice(notice OverrideNotice) (subject, body string) {
	kind := "single"
	if notice.Bulk {
		kind = "bulk"
	}
	subject = fmt.Sprintf("[medqr] operator %s verification override: %d user(s)", kind, len(notice.Emails))

	var b strings.Builder
	fmt.Fprintf(&b, "Operator: %s\n", notice.Operator)
	fmt.Fprintf(&b, "Time: %s\n", notice.At.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Users marked verified without provider confirmation:\n")
	for _, email := range notice.Emails {
		fmt.Fprintf(&b, "  - %s\n", email)
	}
	return subject, b.String()
}

func resendRetryDelay(err error, attempt int) (time.Duration, bool) {
	var rateLimitErr *resend.RateLimitError
	if errors.As(err, &rateLimitErr) {
		if seconds, convErr := strconv.Atoi(strings.TrimSpace(rateLimitErr.RetryAfter)); convErr == nil && seconds > 0 {
			if seconds > 30 {
				seconds = 30
			}
			return time.Duration(seconds) * time.Second, true
		}
		return time.Duration(attempt+1) * time.Second, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return time.Duration(attempt+1) * 500 * time.Millisecond, true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "temporar") {
		return time.Duration(attempt+1) * 500 * time.Millisecond, true
	}

	return 0, false
}
