package notify

import (
	"context"

	"github.com/reminder-core/reminder/internal/domain/entities"
)

// stubProvider implements channels spec.md §4.4 lists as "pluggable stubs":
// they always report not_implemented rather than raising, so the router
// treats them exactly like any other failed delivery.
type stubProvider struct {
	name entities.Channel
}

func NewVoiceProvider() Provider        { return stubProvider{name: entities.ChannelVoice} }
func NewDesktopPopupProvider() Provider { return stubProvider{name: entities.ChannelDesktopPopup} }

func (p stubProvider) Name() entities.Channel { return p.name }

func (p stubProvider) Send(context.Context, *entities.Reminder, Payload) DeliveryResult {
	return DeliveryResult{OK: false, Provider: string(p.name), Error: "not_implemented"}
}
