package webhook

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

type Message struct {
	Content string `json:"content"`
}

// Messager posts messages to a Discord style webhook
type Messager struct {
	BaseURL string
	Name    string

	notify bool
	client *resty.Client
}

// NewMessager returns a messager that only sends when notify is set and baseURL is not empty
func NewMessager(baseURL, name string, notify bool) *Messager {
	return &Messager{
		BaseURL: baseURL,
		Name:    name,
		notify:  notify && baseURL != "",
		client:  resty.New().SetTimeout(10 * time.Second),
	}
}

func (b *Messager) send(ctx context.Context, content string) error {
	if !b.notify {
		return nil
	}

	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(Message{Content: fmt.Sprintf("[%s] %s", b.Name, content)}).
		Post(b.BaseURL)
	if err != nil {
		return err
	}

	// discord answers 204 when wait=false
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNoContent {
		return fmt.Errorf("error sending message: status %d", resp.StatusCode())
	}

	return nil
}

func (b *Messager) Notify(ctx context.Context, message string) error {
	return b.send(ctx, message)
}

func (b *Messager) NotifyWarning(ctx context.Context, errorMessage error) error {
	return b.send(ctx, "warning: "+errorMessage.Error())
}

func (b *Messager) NotifyError(ctx context.Context, errorMessage error) error {
	return b.send(ctx, "error: "+errorMessage.Error())
}
