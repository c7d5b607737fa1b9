package redis

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/RichardKnop/combiner/backends/iface"
	"github.com/RichardKnop/combiner/common"
	"github.com/RichardKnop/combiner/config"
)

// Store keeps task states as Redis strings. Expiry is set with the value.
type Store struct {
	client redis.UniversalClient
}

// New creates a Redis result backend from cnf.ResultBackend, one of
//
//	redis://[[user]:password@]host:port[/db]
//	rediss://[[user]:password@]host1:port1,host2:port2[/db]
//	unix://[[user]:password@]/path/to/redis.sock[?db=db]
//
// Several hosts make a cluster client, a configured master name a sentinel
// client and anything else a single node client.
func New(cnf *config.Config) (iface.Backend, error) {
	opts, err := clientOptions(cnf)
	if err != nil {
		return nil, errors.Wrap(err, "Parse redis URL error")
	}

	return common.NewBackend(cnf, NewStore(redis.NewUniversalClient(opts))), nil
}

// NewStore creates a Store on an existing client
func NewStore(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Put sets key to value, expiring after ttl
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Get returns the value of key
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, iface.ErrStateNotFound
	}
	return value, err
}

// Delete removes key
func (s *Store) Delete(ctx context.Context, key string) error {
	deleted, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return iface.ErrStateNotFound
	}
	return nil
}

// clientOptions parses the result backend URL with redis.ParseURL, then
// applies the host list and cnf.Redis on top of it
func clientOptions(cnf *config.Config) (*redis.UniversalOptions, error) {
	url, hosts := splitHosts(cnf.ResultBackend)

	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		hosts = []string{parsed.Addr}
	}

	// redis://secret@host carries a password without a user
	username, password := parsed.Username, parsed.Password
	if password == "" {
		username, password = "", username
	}

	opts := &redis.UniversalOptions{
		Addrs:     hosts,
		DB:        parsed.DB,
		Username:  username,
		Password:  password,
		TLSConfig: parsed.TLSConfig,
	}
	if cnf.TLSConfig != nil {
		opts.TLSConfig = cnf.TLSConfig
	}

	if rcnf := cnf.Redis; rcnf != nil {
		opts.MasterName = rcnf.MasterName
		opts.PoolSize = rcnf.PoolSize
		opts.MinIdleConns = rcnf.MinIdleConns
		opts.ConnMaxIdleTime = seconds(rcnf.IdleTimeout)
		opts.DialTimeout = seconds(rcnf.ConnectTimeout)
		opts.ReadTimeout = seconds(rcnf.ReadTimeout)
		opts.WriteTimeout = seconds(rcnf.WriteTimeout)
	}

	return opts, nil
}

// splitHosts cuts a comma separated host list out of a redis:// or
// rediss:// URL. The URL comes back naming only the first host; unix:// URLs
// are returned as they are.
func splitHosts(url string) (string, []string) {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok || scheme == "unix" {
		return url, nil
	}

	var userinfo string
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		userinfo, rest = rest[:i+1], rest[i+1:]
	}

	hostList, tail := rest, ""
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		hostList, tail = rest[:i], rest[i:]
	}

	hosts := strings.Split(hostList, ",")
	return scheme + "://" + userinfo + hosts[0] + tail, hosts
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
