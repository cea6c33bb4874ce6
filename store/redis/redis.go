package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/pogo-ws/bridge/store"
)

// Config represents the Redis store config structure.
type Config struct {
	Address     string        `koanf:"address"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	ActiveConns int           `koanf:"active_conns"`
	IdleConns   int           `koanf:"idle_conns"`
	Timeout     time.Duration `koanf:"timeout"`

	PrefixSession string `koanf:"prefix_session"`
	KeyOccupied   string `koanf:"key_occupied"`
}

// Redis represents the Redis implementation of the Store interface.
type Redis struct {
	cfg  *Config
	pool *redis.Pool
}

type session struct {
	UserID string `redis:"user_id"`
	Info   []byte `redis:"info"`
}

// New returns a new Redis store.
func New(cfg Config) (*Redis, error) {
	if cfg.PrefixSession == "" {
		cfg.PrefixSession = "session:%s"
	}
	if cfg.KeyOccupied == "" {
		cfg.KeyOccupied = "channels:occupied"
	}

	pool := &redis.Pool{
		Wait:      true,
		MaxActive: cfg.ActiveConns,
		MaxIdle:   cfg.IdleConns,
		Dial: func() (redis.Conn, error) {
			return redis.Dial(
				"tcp",
				cfg.Address,
				redis.DialPassword(cfg.Password),
				redis.DialConnectTimeout(cfg.Timeout),
				redis.DialReadTimeout(cfg.Timeout),
				redis.DialWriteTimeout(cfg.Timeout),
				redis.DialDatabase(cfg.DB),
			)
		},
	}

	// Test connection.
	c := pool.Get()
	defer c.Close()

	if err := c.Err(); err != nil {
		return nil, err
	}
	return &Redis{cfg: &cfg, pool: pool}, nil
}

// AddSession adds a user session to the store.
func (r *Redis) AddSession(token string, s store.Session, ttl time.Duration) error {
	c := r.pool.Get()
	defer c.Close()

	info, err := json.Marshal(s.Info)
	if err != nil {
		return err
	}

	key := fmt.Sprintf(r.cfg.PrefixSession, token)
	c.Send("HMSET", key,
		"user_id", s.UserID,
		"info", info)
	if ttl > 0 {
		c.Send("EXPIRE", key, int(ttl.Seconds()))
	}
	return c.Flush()
}

// GetSession retrieves a user session from the store.
func (r *Redis) GetSession(token string) (store.Session, error) {
	c := r.pool.Get()
	defer c.Close()

	var (
		out store.Session
		s   session
		key = fmt.Sprintf(r.cfg.PrefixSession, token)
	)
	res, err := redis.Values(c.Do("HGETALL", key))
	if err != nil {
		return out, err
	}
	if err := redis.ScanStruct(res, &s); err != nil {
		return out, err
	}
	if s.UserID == "" {
		return out, store.ErrSessionNotFound
	}

	out.UserID = s.UserID
	if len(s.Info) > 0 {
		if err := json.Unmarshal(s.Info, &out.Info); err != nil {
			return out, err
		}
	}
	return out, nil
}

// RemoveSession deletes a session from the store.
func (r *Redis) RemoveSession(token string) error {
	c := r.pool.Get()
	defer c.Close()

	_, err := c.Do("DEL", fmt.Sprintf(r.cfg.PrefixSession, token))
	return err
}

// MarkOccupied records a channel as having at least one subscriber.
func (r *Redis) MarkOccupied(channel string) error {
	c := r.pool.Get()
	defer c.Close()

	_, err := c.Do("SADD", r.cfg.KeyOccupied, channel)
	return err
}

// MarkVacated records a channel as having lost its last subscriber.
func (r *Redis) MarkVacated(channel string) error {
	c := r.pool.Get()
	defer c.Close()

	_, err := c.Do("SREM", r.cfg.KeyOccupied, channel)
	return err
}

// ListOccupied returns all currently occupied channels.
func (r *Redis) ListOccupied() ([]string, error) {
	c := r.pool.Get()
	defer c.Close()

	return redis.Strings(c.Do("SMEMBERS", r.cfg.KeyOccupied))
}
