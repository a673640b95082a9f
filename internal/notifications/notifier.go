package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"

	"campus/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	roomChannelPrefix = "realtime:"
	userChannelPrefix = "notifications:user:"

	commentRoomPattern = roomChannelPrefix + "comments:*"
	userPattern        = userChannelPrefix + "*"
)

// Notifier publishes realtime frames into Redis so every API instance can deliver them.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Enabled reports whether the notifier has a Redis client behind it.
func (n *Notifier) Enabled() bool {
	return n != nil && n.rdb != nil
}

// RoomChannel derives the Redis channel name for a comment room.
func RoomChannel(room string) string {
	return roomChannelPrefix + room
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID uint) string {
	return userChannelPrefix + strconv.FormatUint(uint64(userID), 10)
}

// PublishRoom sends a frame to every subscriber of room on every instance.
func (n *Notifier) PublishRoom(ctx context.Context, room string, payload string) error {
	if !n.Enabled() {
		return nil
	}
	return n.rdb.Publish(ctx, RoomChannel(room), payload).Err()
}

// PublishUser sends a frame to every socket of userID on every instance.
func (n *Notifier) PublishUser(ctx context.Context, userID uint, payload string) error {
	if !n.Enabled() {
		return nil
	}
	return n.rdb.Publish(ctx, UserChannel(userID), payload).Err()
}

// StartRoomSubscriber delivers frames published to comment rooms. onMessage receives the
// room key (without the channel prefix) and the payload.
func (n *Notifier) StartRoomSubscriber(ctx context.Context, onMessage func(room, payload string)) error {
	return n.subscribe(ctx, "room subscriber", commentRoomPattern, func(channel, payload string) {
		onMessage(strings.TrimPrefix(channel, roomChannelPrefix), payload)
	})
}

// StartUserSubscriber delivers frames published to user channels.
func (n *Notifier) StartUserSubscriber(ctx context.Context, onMessage func(userID uint, payload string)) error {
	return n.subscribe(ctx, "user subscriber", userPattern, func(channel, payload string) {
		id, err := strconv.ParseUint(strings.TrimPrefix(channel, userChannelPrefix), 10, 64)
		if err != nil {
			observability.GlobalLogger.Warn("invalid notification channel", slog.String("channel", channel))
			return
		}
		onMessage(uint(id), payload)
	})
}

// subscribe waits for the subscription to be confirmed, then consumes it on a goroutine
// until ctx is done. A panicking handler is logged and the loop keeps running.
func (n *Notifier) subscribe(ctx context.Context, name, pattern string, onMessage func(channel, payload string)) error {
	if !n.Enabled() {
		return nil
	}

	sub := n.rdb.PSubscribe(ctx, pattern)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("%s: %w", name, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							observability.GlobalLogger.Error("panic in "+name,
								slog.Any("panic", r),
								slog.String("stack", string(debug.Stack())),
							)
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}
