package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/commonshq/commons-backend/internal/event"
)

type template struct {
	title    string
	message  string
	priority Priority
}

// templates maps domain event types to the notification they fan out as.
// Event types without a template produce no notifications.
var templates = map[string]template{
	event.TypeContactRequested: {title: "New contact request", message: "You have a new contact request", priority: PriorityNormal},
	event.TypeContactAccepted:  {title: "Contact request accepted", message: "Your contact request was accepted", priority: PriorityNormal},
	event.TypeMessageSent:      {title: "New message", message: "You have a new message", priority: PriorityNormal},
	event.TypeReplyAdded:       {title: "New reply", message: "Someone replied to your post", priority: PriorityLow},
	event.TypeCallStarted:      {title: "Incoming call", message: "You are invited to a call", priority: PriorityHigh},
}

// HandleEvent fans a domain event out as notifications to the users the
// publisher named. Failures are logged and swallowed: notification trouble
// must never surface to the operation that triggered the event.
func (h *Hub) HandleEvent(ctx context.Context, evt event.Event) error {
	tpl, ok := templates[evt.Type]
	if !ok || len(evt.NotifyUserIDs) == 0 {
		return nil
	}
	for _, recipientID := range evt.NotifyUserIDs {
		if recipientID == "" || recipientID == evt.ActorID {
			continue
		}
		_, err := h.Dispatch(ctx, DispatchRequest{
			RecipientID: recipientID,
			SenderID:    evt.ActorID,
			Type:        evt.Type,
			Title:       tpl.title,
			Message:     tpl.message,
			Payload:     evt.Payload,
			Priority:    tpl.priority,
		})
		if err != nil {
			h.logger.Warn("notification fan-out failed",
				zap.String("event_type", evt.Type),
				zap.String("recipient_id", recipientID),
				zap.Error(err))
		}
	}
	return nil
}
