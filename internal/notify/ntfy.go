package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reminder-core/reminder/internal/domain/entities"
)

// sendTimeout is the hard per-provider I/O deadline from spec.md §4.4.
const sendTimeout = 10 * time.Second

// NtfyProvider posts reminders to an ntfy topic. When DryRun is set it logs
// the would-be request and returns ok=true without touching the network,
// the behavior spec.md §4.4 requires for CI.
type NtfyProvider struct {
	BaseURL string
	Topic   string
	DryRun  bool
	Client  *http.Client
	Logger  *zap.Logger
}

func NewNtfyProvider(baseURL, topic string, dryRun bool, logger *zap.Logger) *NtfyProvider {
	return &NtfyProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Topic:   topic,
		DryRun:  dryRun,
		Client:  &http.Client{Timeout: sendTimeout},
		Logger:  logger,
	}
}

func (p *NtfyProvider) Name() entities.Channel { return entities.ChannelNtfy }

func (p *NtfyProvider) Send(ctx context.Context, reminder *entities.Reminder, payload Payload) DeliveryResult {
	url := fmt.Sprintf("%s/%s", p.BaseURL, p.Topic)

	headers := map[string]string{
		"Title":    payload.Title,
		"Priority": strconv.Itoa(MapPriority(reminder.Priority)),
	}
	if reminder.Kind == entities.KindAlarm {
		headers["Tags"] = "rotating_light"
	}
	for i, a := range payload.Actions {
		headers[fmt.Sprintf("Actions-%d", i)] = fmt.Sprintf("http, %s, %s", a.Label, a.URL)
	}

	if p.DryRun {
		preview := payload.Body
		if len(preview) > 200 {
			preview = preview[:200]
		}
		p.Logger.Info("ntfy dry-run",
			zap.String("url", url),
			zap.Any("headers", headers),
			zap.String("body_preview", preview),
		)
		return DeliveryResult{OK: true, Provider: string(entities.ChannelNtfy), DryRun: true}
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(payload.Body))
	if err != nil {
		return DeliveryResult{OK: false, Provider: string(entities.ChannelNtfy), Error: err.Error()}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return DeliveryResult{OK: false, Provider: string(entities.ChannelNtfy), Error: err.Error()}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return DeliveryResult{
			OK:       false,
			Provider: string(entities.ChannelNtfy),
			Error:    strconv.Itoa(resp.StatusCode),
		}
	}

	return DeliveryResult{OK: true, Provider: string(entities.ChannelNtfy)}
}
