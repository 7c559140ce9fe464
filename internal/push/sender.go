// Package push delivers Web Push badge notifications to users who have no
// open dashboard socket. Subscriptions live in Redis keyed per user.
package push

import (
	"context"
	"encoding/json"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/redis/go-redis/v9"
	"github.com/schoolinbox/internal/logger"
)

const (
	redisKeyPrefix  = "push:subs:"
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
)

// Subscription is the browser-side push subscription.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Sender stores subscriptions and sends notifications. With empty VAPID keys
// it keeps accepting subscriptions but sends nothing.
type Sender struct {
	rdb   *redis.Client
	vapid *VAPIDKeys
}

func NewSender(rdb *redis.Client, vapid *VAPIDKeys) *Sender {
	return &Sender{rdb: rdb, vapid: vapid}
}

func (s *Sender) enabled() bool {
	return s.vapid != nil && s.vapid.PublicKey != "" && s.vapid.PrivateKey != ""
}

// Subscribe saves one subscription for the user, keyed by endpoint.
func (s *Sender) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	key := redisKeyPrefix + userID
	n, err := s.rdb.HLen(ctx, key).Result()
	if err != nil {
		return err
	}
	if n >= maxSubsPerUser {
		// Old devices age out via TTL; refuse runaway subscription sets.
		logger.Errorf("push: subscription limit user=%s", userID)
		return nil
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, key, sub.Endpoint, raw).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, subscriptionTTL).Err()
}

// Unsubscribe removes one subscription by endpoint.
func (s *Sender) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	return s.rdb.HDel(ctx, redisKeyPrefix+userID, endpoint).Err()
}

// notification is the payload the service worker unpacks.
type notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify sends a notification to every subscription of the user. Failures are
// logged, never surfaced; a 404/410 endpoint is pruned.
func (s *Sender) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if !s.enabled() {
		return
	}
	defer logger.DeferLogDuration("push.Notify", time.Now())()

	subs, err := s.rdb.HGetAll(ctx, redisKeyPrefix+userID).Result()
	if err != nil {
		logger.Errorf("push: load subscriptions user=%s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload, err := json.Marshal(notification{Title: title, Body: body, Data: data})
	if err != nil {
		logger.Errorf("push: marshal payload: %v", err)
		return
	}

	for endpoint, raw := range subs {
		var sub Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			logger.Errorf("push: bad subscription user=%s: %v", userID, err)
			continue
		}
		wsub := &webpush.Subscription{Endpoint: sub.Endpoint}
		wsub.Keys.P256dh = sub.Keys.P256dh
		wsub.Keys.Auth = sub.Keys.Auth

		resp, err := webpush.SendNotificationWithContext(ctx, payload, wsub, &webpush.Options{
			VAPIDPublicKey:  s.vapid.PublicKey,
			VAPIDPrivateKey: s.vapid.PrivateKey,
			TTL:             60,
		})
		if err != nil {
			logger.Errorf("push: send user=%s: %v", userID, err)
			continue
		}
		if resp.StatusCode == 404 || resp.StatusCode == 410 {
			// Endpoint gone: the browser dropped the subscription.
			if err := s.rdb.HDel(ctx, redisKeyPrefix+userID, endpoint).Err(); err != nil {
				logger.Errorf("push: prune endpoint user=%s: %v", userID, err)
			}
		}
		resp.Body.Close()
	}
}
