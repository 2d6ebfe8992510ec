package job_runner

import (
	"context"
	"encoding/json"

	_const "github.com/TimeWtr/job_runner/const"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// Publisher 发布订阅通道，只负责发送，不等待订阅者确认
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
}

// RedisPublisher 使用redis PUBLISH，worker订阅 master.broadcast.<api_key>
type RedisPublisher struct {
	client redis.UniversalClient
}

func NewRedisPublisher(client redis.UniversalClient) Publisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	if err := p.client.Publish(ctx, routingKey, payload).Err(); err != nil {
		return errors.Wrapf(err, "publish to %s", routingKey)
	}
	return nil
}

type EnqueueMessage struct {
	RunID  int64         `json:"run_id"`
	Action _const.Action `json:"action"`
}

type KillMessage struct {
	KillRequestID int64         `json:"kill_request_id"`
	Action        _const.Action `json:"action"`
}

type PingMessage struct {
	Action _const.Action `json:"action"`
}

func NewEnqueueMessage(runID int64) EnqueueMessage {
	return EnqueueMessage{RunID: runID, Action: _const.ActionEnqueue}
}

func NewKillMessage(killRequestID int64) KillMessage {
	return KillMessage{KillRequestID: killRequestID, Action: _const.ActionKill}
}

func NewPingMessage() PingMessage {
	return PingMessage{Action: _const.ActionPing}
}

// RoutingKey 路由键为前缀加worker的api_key
func RoutingKey(prefix, apiKey string) string {
	return prefix + apiKey
}

func encodeMessage(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "marshal broadcast message")
	}
	return data, nil
}
