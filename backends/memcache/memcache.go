package memcache

import (
	"context"
	"fmt"
	"strings"
	"time"

	gomemcache "github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"

	"github.com/RichardKnop/combiner/backends/iface"
	"github.com/RichardKnop/combiner/common"
	"github.com/RichardKnop/combiner/config"
)

// memcache reads expirations longer than 30 days as unix timestamps
const maxRelativeExpiration = 30 * 24 * time.Hour

// Store keeps task states in memcache
type Store struct {
	client *gomemcache.Client
}

// New creates a memcache result backend from a
// memcache://server1:port,server2:port URL
func New(cnf *config.Config) (iface.Backend, error) {
	servers, err := parseServers(cnf.ResultBackend)
	if err != nil {
		return nil, err
	}
	return common.NewBackend(cnf, NewStore(gomemcache.New(servers...))), nil
}

// NewStore creates a Store on an existing client
func NewStore(client *gomemcache.Client) *Store {
	return &Store{client: client}
}

// Put sets key to value. The client has no context support, so ctx is only
// checked before the call.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.client.Set(&gomemcache.Item{
		Key:        key,
		Value:      value,
		Expiration: expiration(time.Now(), ttl),
	})
}

// Get returns the value of key
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	item, err := s.client.Get(key)
	if errors.Is(err, gomemcache.ErrCacheMiss) {
		return nil, iface.ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

// Delete removes key
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.client.Delete(key)
	if errors.Is(err, gomemcache.ErrCacheMiss) {
		return iface.ErrStateNotFound
	}
	return err
}

// expiration converts ttl into memcache's expiration field: seconds when
// short enough, otherwise an absolute unix time
func expiration(now time.Time, ttl time.Duration) int32 {
	switch {
	case ttl <= 0:
		return 0
	case ttl > maxRelativeExpiration:
		return int32(now.Add(ttl).Unix())
	}

	seconds := int32(ttl / time.Second)
	if seconds == 0 {
		seconds = 1
	}
	return seconds
}

func parseServers(url string) ([]string, error) {
	list := strings.TrimPrefix(url, "memcache://")
	if list == url || list == "" {
		return nil, fmt.Errorf(
			"Memcache result backend connection string should be in format memcache://server1:port,server2:port, instead got %s",
			url,
		)
	}
	return strings.Split(list, ","), nil
}
