package delivery

import (
	"context"
	"fmt"
	"strings"
)

// Router picks a Sender for a message by its channel id. Channels without a
// dedicated adapter fall through to Default.
type Router struct {
	ByChannel map[string]Sender
	Default   Sender
}

func NewRouter(def Sender) *Router {
	return &Router{ByChannel: make(map[string]Sender), Default: def}
}

// Register binds a channel id to a dedicated sender. Channel matching is
// case-insensitive.
func (r *Router) Register(channel string, s Sender) {
	r.ByChannel[strings.ToLower(strings.TrimSpace(channel))] = s
}

func (r *Router) Send(ctx context.Context, msg Message) error {
	if s, ok := r.ByChannel[strings.ToLower(strings.TrimSpace(msg.ChannelID))]; ok {
		return s.Send(ctx, msg)
	}
	if r.Default == nil {
		return fmt.Errorf("delivery: no sender for channel %q", msg.ChannelID)
	}
	return r.Default.Send(ctx, msg)
}
