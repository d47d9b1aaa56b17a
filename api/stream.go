package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const streamHeartbeat = 30 * time.Second

// updateBroker wakes the SSE streams of a board on this instance.
type updateBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func newUpdateBroker() *updateBroker {
	return &updateBroker{subs: make(map[string]map[chan struct{}]struct{})}
}

func (b *updateBroker) subscribe(boardID string) chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	if b.subs[boardID] == nil {
		b.subs[boardID] = make(map[chan struct{}]struct{})
	}
	b.subs[boardID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *updateBroker) unsubscribe(boardID string, ch chan struct{}) {
	b.mu.Lock()
	if subs, ok := b.subs[boardID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.subs, boardID)
		}
	}
	b.mu.Unlock()
}

func (b *updateBroker) notify(boardID string) {
	b.mu.Lock()
	for ch := range b.subs[boardID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

type boardUpdate struct {
	BoardID string `json:"boardId"`
}

// RedisUpdates publishes board changes on a Redis channel shared by every
// API instance.
type RedisUpdates struct {
	client  *redis.Client
	channel string
}

// NewRedisUpdates creates a publisher on channel.
func NewRedisUpdates(client *redis.Client, channel string) *RedisUpdates {
	return &RedisUpdates{client: client, channel: channel}
}

// Publish announces that boardID changed.
func (u *RedisUpdates) Publish(ctx context.Context, boardID string) error {
	data, err := sonic.Marshal(boardUpdate{BoardID: boardID})
	if err != nil {
		return err
	}
	return u.client.Publish(ctx, u.channel, data).Err()
}

// Subscribe delivers announced board ids to fn until ctx is done,
// resubscribing when the channel closes.
func (u *RedisUpdates) Subscribe(ctx context.Context, logger *log.Logger, fn func(boardID string)) {
	for {
		sub := u.client.Subscribe(ctx, u.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev boardUpdate
				if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil || ev.BoardID == "" {
					logger.WithField("payload", msg.Payload).Error("unable to parse board update")
					continue
				}
				fn(ev.BoardID)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// streamBoard sends the board state as server-sent events, once on connect
// and again after every change.
func streamBoard(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		boardID := c.Param("id")
		if _, err := s.ownedBoard(ctx, currentUser(c), boardID); err != nil {
			return s.fail(c, err)
		}

		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		ch := s.broker.subscribe(boardID)
		defer s.broker.unsubscribe(boardID, ch)

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		ticker := time.NewTicker(streamHeartbeat)
		defer ticker.Stop()
		for {
			state, err := s.States.LoadBoard(ctx, boardID)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.Logger.WithField("board_id", boardID).WithError(err).Error("load board for stream failed")
				return nil
			}
			data, err := sonic.Marshal(state)
			if err != nil {
				return err
			}
			if _, err := c.Response().Write([]byte("data: ")); err != nil {
				return nil
			}
			if _, err := c.Response().Write(data); err != nil {
				return nil
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				return nil
			}
			flusher.Flush()

		wait:
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ch:
					break wait
				case <-ticker.C:
					if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
						return nil
					}
					flusher.Flush()
				}
			}
		}
	}
}
