package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/tiiuae/coverageengine/internal/log"
)

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// RedisStore saves plans as JSON under <prefix>:plan:<id> and remembers
// the newest id under <prefix>:plan:latest.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *log.Logger
}

func NewRedisStore(cfg RedisConfig, logger *log.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedisStore(client, cfg, logger)
}

func newRedisStore(client *redis.Client, cfg RedisConfig, logger *log.Logger) *RedisStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "coverageengine"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL, logger: logger}
}

// Connect pings the server.
func (s *RedisStore) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.client.Ping(ctx).Result(); err != nil {
		return errors.WithMessage(err, "Could not connect to Redis")
	}
	s.logger.Infof("Connected to Redis at %s", s.client.Options().Addr)
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *RedisStore) Save(ctx context.Context, plan Plan) error {
	if plan.ID == "" {
		return errors.New("plan has no id")
	}
	b, err := json.Marshal(plan)
	if err != nil {
		return errors.WithMessage(err, "Could not marshal plan")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key("plan", plan.ID), b, s.ttl)
	pipe.Set(ctx, s.key("plan", "latest"), plan.ID, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.WithMessagef(err, "Could not save plan %s", plan.ID)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (Plan, error) {
	b, err := s.client.Get(ctx, s.key("plan", id)).Bytes()
	if err == redis.Nil {
		return Plan{}, errors.WithMessagef(ErrPlanNotFound, "id %s", id)
	} else if err != nil {
		return Plan{}, errors.WithMessagef(err, "Could not load plan %s", id)
	}

	var plan Plan
	if err := json.Unmarshal(b, &plan); err != nil {
		return Plan{}, errors.WithMessagef(err, "Could not unmarshal plan %s", id)
	}
	return plan, nil
}

func (s *RedisStore) Latest(ctx context.Context) (Plan, error) {
	id, err := s.client.Get(ctx, s.key("plan", "latest")).Result()
	if err == redis.Nil {
		return Plan{}, ErrPlanNotFound
	} else if err != nil {
		return Plan{}, errors.WithMessage(err, "Could not read latest plan id")
	}
	return s.Load(ctx, id)
}
