package speed

import "github.com/hazyhaar/vscd/speedwatch/event"

// Remote message types.
const (
	MessageSetSpeed      = "VSC_SET_SPEED"
	MessageAdjustSpeed   = "VSC_ADJUST_SPEED"
	MessageResetSpeed    = "VSC_RESET_SPEED"
	MessageToggleDisplay = "VSC_TOGGLE_DISPLAY"
)

// Message is a command posted from outside the page, such as a popup or
// a remote client.
type Message struct {
	Type    string         `json:"type"`
	Payload MessagePayload `json:"payload"`
}

// MessagePayload carries the numeric argument of a Message.
type MessagePayload struct {
	Speed *float64 `json:"speed,omitempty"`
	Delta *float64 `json:"delta,omitempty"`
}

// HandleMessage applies msg to every managed element. It reports false
// for unknown types and missing payloads.
func (c *Coordinator) HandleMessage(msg Message) bool {
	media := c.reg.AllMedia()
	switch msg.Type {
	case MessageSetSpeed:
		if msg.Payload.Speed == nil {
			c.logger.Warn("speed: set message without speed")
			return false
		}
		for _, m := range media {
			c.AdjustSpeed(m, *msg.Payload.Speed, Absolute, event.SourceInternal)
		}
	case MessageAdjustSpeed:
		if msg.Payload.Delta == nil {
			c.logger.Warn("speed: adjust message without delta")
			return false
		}
		for _, m := range media {
			c.AdjustSpeed(m, *msg.Payload.Delta, Relative, event.SourceInternal)
		}
	case MessageResetSpeed:
		for _, m := range media {
			c.ResetSpeed(m, 1)
		}
	case MessageToggleDisplay:
		c.RunAction(ActionDisplay, 0, nil)
	default:
		c.logger.Warn("speed: unknown message", "type", msg.Type)
		return false
	}
	c.logger.Debug("speed: message applied", "type", msg.Type, "media", len(media))
	return true
}
