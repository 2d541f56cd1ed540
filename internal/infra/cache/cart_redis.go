package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"florist/internal/domain/model"

	"github.com/redis/go-redis/v9"
)

// セッションIDをキーにしたカート。保存のたびにTTLを延ばす
type CartRedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCartRedisStore(client *redis.Client, ttl time.Duration) *CartRedisStore {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &CartRedisStore{client: client, ttl: ttl}
}

// 無ければ nil, nil
func (s *CartRedisStore) Get(ctx context.Context, sessionID string) (*model.Cart, error) {
	data, err := s.client.Get(ctx, cartKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart model.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	cart.SessionID = sessionID
	return &cart, nil
}

func (s *CartRedisStore) Save(ctx context.Context, cart *model.Cart) error {
	if cart == nil || cart.SessionID == "" {
		return errors.New("cart without session")
	}
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	if err := s.client.Set(ctx, cartKey(cart.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *CartRedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, cartKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cartKey(sessionID string) string {
	return "cart:session:" + sessionID
}
