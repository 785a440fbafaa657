package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPingTimeout = 2 * time.Second

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis is the shared store used by every process. Keys are written without
// expiry.
type Redis struct {
	client *redis.Client
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

// maxUpdate stores ARGV[1] unless KEYS[1] already holds a number at least
// as large. A non-numeric value is an error.
var maxUpdate = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
	local n = tonumber(current)
	if not n then
		return redis.error_reply('value of ' .. KEYS[1] .. ' is not a number')
	end
	if n >= tonumber(ARGV[1]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// SetMax raises key to value atomically, so concurrent writers from several
// processes can never move it backwards.
func (r *Redis) SetMax(ctx context.Context, key string, value uint64) error {
	return maxUpdate.Run(ctx, r.client, []string{key}, value).Err()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
