package chat

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"legalease/internal/logging"
	"legalease/internal/models"
	"legalease/internal/redis"

	"go.uber.org/zap"
)

const (
	redisInvalidateChannel = "chat:invalidate"
	redisStateTTL          = 30 * time.Minute
)

type invalidateMessage struct {
	SessionID string `json:"session_id"`
	Origin    string `json:"origin"`
}

// cachedSession is what survives a process restart: the log, title and input.
type cachedSession struct {
	Title    string           `json:"title"`
	Messages []models.Message `json:"messages"`
	Input    string           `json:"input"`
}

type stateRedis struct {
	client *redis.Client
}

func newStateCache(client *redis.Client) *stateRedis {
	return &stateRedis{client: client}
}

func (r *stateRedis) enabled() bool {
	return r != nil && r.client.Enabled()
}

func sessionKey(id string) string {
	return "chat:session:" + id
}

// startListener subscribes to invalidations published by other portal instances.
func (r *stateRedis) startListener(ctx context.Context, handler func(invalidateMessage)) error {
	if !r.enabled() || handler == nil {
		return nil
	}
	pubsub, err := r.client.Subscribe(ctx, redisInvalidateChannel)
	if err != nil {
		return err
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv invalidateMessage
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					logging.L().Warn("chat invalidation decode failed", zap.Error(err))
					continue
				}
				handler(inv)
			}
		}
	}()
	return nil
}

func (r *stateRedis) publishInvalidation(ctx context.Context, msg invalidateMessage) {
	if !r.enabled() {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		logging.L().Warn("chat invalidation marshal failed", zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, redisInvalidateChannel, payload); err != nil {
		logging.WithCtx(ctx).Warn("chat publish invalidation failed", zap.Error(err))
	}
}

func (r *stateRedis) cacheSnapshot(ctx context.Context, snap Snapshot) {
	if !r.enabled() || snap.ID == "" {
		return
	}
	data, err := json.Marshal(cachedSession{Title: snap.Title, Messages: snap.Messages, Input: snap.Input})
	if err != nil {
		logging.L().Warn("chat cache marshal failed", zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, sessionKey(snap.ID), data, redisStateTTL); err != nil {
		logging.WithCtx(ctx).Warn("chat cache session failed", zap.Error(err))
	}
}

func (r *stateRedis) loadSession(ctx context.Context, id string) (*cachedSession, bool) {
	if !r.enabled() || id == "" {
		return nil, false
	}
	raw, err := r.client.Get(ctx, sessionKey(id))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			logging.WithCtx(ctx).Warn("chat load session cache failed", zap.Error(err))
		}
		return nil, false
	}
	var cached cachedSession
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		logging.WithCtx(ctx).Warn("chat decode session cache failed", zap.Error(err))
		return nil, false
	}
	return &cached, true
}

func (r *stateRedis) invalidateSession(ctx context.Context, id string) {
	if !r.enabled() || id == "" {
		return
	}
	if err := r.client.Del(ctx, sessionKey(id)); err != nil && !errors.Is(err, redis.ErrCacheMiss) {
		logging.WithCtx(ctx).Warn("chat invalidate session cache failed", zap.Error(err))
	}
}
