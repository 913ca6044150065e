package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"rwa/util"

	"github.com/redis/go-redis/v9"
)

// AuthoritySet holds the principals allowed to update any asset's risk
// directly, on top of each asset's owner.
type AuthoritySet interface {
	Contains(ctx context.Context, principal string) (bool, error)
	List(ctx context.Context) ([]string, error)
	Add(ctx context.Context, principal string) error
	Remove(ctx context.Context, principal string) error
	// Dynamic reports whether Add and Remove are supported.
	Dynamic() bool
}

// StaticAuthorities is read-only configuration; Add and Remove fail with
// ErrStaticAuthorities.
type StaticAuthorities struct {
	principals map[string]struct{}
}

func NewStaticAuthorities(principals []string) *StaticAuthorities {
	set := make(map[string]struct{}, len(principals))
	for _, p := range util.Dedupe(principals) {
		set[p] = struct{}{}
	}
	return &StaticAuthorities{principals: set}
}

func (s *StaticAuthorities) Contains(_ context.Context, principal string) (bool, error) {
	_, ok := s.principals[principal]
	return ok, nil
}

func (s *StaticAuthorities) List(context.Context) ([]string, error) {
	out := make([]string, 0, len(s.principals))
	for p := range s.principals {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (s *StaticAuthorities) Add(context.Context, string) error    { return ErrStaticAuthorities }
func (s *StaticAuthorities) Remove(context.Context, string) error { return ErrStaticAuthorities }
func (s *StaticAuthorities) Dynamic() bool                        { return false }

// RedisAuthorities keeps the set in a redis set so it can be changed at
// runtime and shared by every engine process.
type RedisAuthorities struct {
	client *redis.Client
	key    string
}

// NewRedisAuthorities seeds the set with principals and returns it.
func NewRedisAuthorities(ctx context.Context, client *redis.Client, prefix string, principals []string) (*RedisAuthorities, error) {
	if prefix == "" {
		prefix = "rwa"
	}
	r := &RedisAuthorities{client: client, key: util.Key(prefix, "authorities")}
	seed := util.Dedupe(principals)
	if len(seed) > 0 {
		members := make([]interface{}, len(seed))
		for i, p := range seed {
			members[i] = p
		}
		if err := client.SAdd(ctx, r.key, members...).Err(); err != nil {
			return nil, fmt.Errorf("seed risk authorities: %w", err)
		}
	}
	return r, nil
}

func (r *RedisAuthorities) Contains(ctx context.Context, principal string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.key, principal).Result()
	if err != nil {
		return false, fmt.Errorf("check risk authority: %w", err)
	}
	return ok, nil
}

func (r *RedisAuthorities) List(ctx context.Context) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list risk authorities: %w", err)
	}
	sort.Strings(members)
	return members, nil
}

func (r *RedisAuthorities) Add(ctx context.Context, principal string) error {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return ErrInvalidPrincipal
	}
	if err := r.client.SAdd(ctx, r.key, principal).Err(); err != nil {
		return fmt.Errorf("add risk authority: %w", err)
	}
	return nil
}

func (r *RedisAuthorities) Remove(ctx context.Context, principal string) error {
	if err := r.client.SRem(ctx, r.key, principal).Err(); err != nil {
		return fmt.Errorf("remove risk authority: %w", err)
	}
	return nil
}

func (r *RedisAuthorities) Dynamic() bool { return true }
