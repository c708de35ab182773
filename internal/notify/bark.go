// Package notify delivers short operator-facing messages over an
// external push channel. Delivery is one-shot and best-effort; the
// caller decides whether a failure matters.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Notifier sends one short text message somewhere a human will see it.
type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

const defaultBarkBase = "https://api.day.app"

// Bark pushes messages through the Bark iOS app's HTTP endpoint.
type Bark struct {
	key  string
	base string
	hc   *http.Client
	log  *zap.Logger
}

// NewBark builds a notifier for the given device key.
func NewBark(key string, log *zap.Logger) *Bark {
	log.Info("bark notifier initialized", zap.String("key", key))
	return &Bark{
		key:  key,
		base: defaultBarkBase,
		hc:   &http.Client{Timeout: 5 * time.Second},
		log:  log,
	}
}

func (b *Bark) Notify(ctx context.Context, msg string) error {
	u := fmt.Sprintf("%s/%s/%s?sound=minuet", b.base, url.PathEscape(b.key), url.PathEscape(msg))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	b.log.Info("sending bark notification", zap.String("msg", msg))
	resp, err := b.hc.Do(req)
	if err != nil {
		return fmt.Errorf("bark notify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("bark notify: status %d", resp.StatusCode)
	}
	return nil
}
