package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	re "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// Redis caches candidate session contexts with a bounded lifetime. It
// replaces the ambient client-held identity: the context is written when
// a session starts and deleted when it completes.
type Redis interface {
	Set(ctx context.Context, key string, value any, expireTime time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)
}

type redis struct {
	redis     *re.Client
	namespace string
}

func New(enable bool) Redis {
	if !enable {
		return Dummy()
	}

	return &redis{
		redis: re.NewClient(&re.Options{
			Addr:     viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		}),
		namespace: viper.GetString("redis.namespace"),
	}
}

func (r *redis) withNamespace(key string) string {
	return fmt.Sprintf("%s:%s", r.namespace, key)
}

func (r *redis) Set(ctx context.Context, key string, value any, expireTime time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	if err := r.redis.Set(ctx, r.withNamespace(key), data, expireTime).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.redis.Get(ctx, r.withNamespace(key)).Bytes()
	if err == re.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (r *redis) Delete(ctx context.Context, key string) (bool, error) {
	deleted, err := r.redis.Del(ctx, r.withNamespace(key)).Result()
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}
