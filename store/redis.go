package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"rwa/types"
	"rwa/util"

	"github.com/redis/go-redis/v9"
)

// Redis keeps every record as JSON under keys prefixed with prefix:
//
//	<prefix>:asset:<asset>                   asset
//	<prefix>:loan:<asset>:<borrower>         current loan
//	<prefix>:loans:<asset>                   set of borrowers with a loan
//	<prefix>:loanhistory:<asset>:<borrower>  list of replaced loans
//	<prefix>:observations:<asset>            list of observations
//	<prefix>:workflows:<asset>               set of recorded workflow ids
//
// Every part is escaped by util.Key, so ids containing ":" cannot collide.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "rwa"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(parts ...string) string {
	return util.Key(append([]string{r.prefix}, parts...)...)
}

func (r *Redis) CreateAsset(ctx context.Context, asset types.Asset) error {
	data, err := json.Marshal(asset)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, r.key("asset", asset.AssetID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("create asset %s: %w", asset.AssetID, err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (r *Redis) GetAsset(ctx context.Context, assetID string) (types.Asset, error) {
	var asset types.Asset
	err := r.getJSON(ctx, r.key("asset", assetID), &asset)
	return asset, err
}

func (r *Redis) UpdateAsset(ctx context.Context, asset types.Asset) error {
	data, err := json.Marshal(asset)
	if err != nil {
		return err
	}
	// XX only overwrites an existing key
	ok, err := r.client.SetXX(ctx, r.key("asset", asset.AssetID), data, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("update asset %s: %w", asset.AssetID, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) GetLoan(ctx context.Context, key types.LoanKey) (types.Loan, error) {
	var loan types.Loan
	err := r.getJSON(ctx, r.key("loan", key.AssetID, key.Borrower), &loan)
	return loan, err
}

func (r *Redis) PutLoan(ctx context.Context, loan types.Loan) error {
	key := loan.Key()
	loanKey := r.key("loan", key.AssetID, key.Borrower)

	prevRaw, err := r.client.Get(ctx, loanKey).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read loan %s: %w", key, err)
	}

	data, err := json.Marshal(loan)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prevRaw != nil {
			var prev types.Loan
			if err := json.Unmarshal(prevRaw, &prev); err != nil {
				return err
			}
			if prev.ID != loan.ID {
				pipe.RPush(ctx, r.key("loanhistory", key.AssetID, key.Borrower), prevRaw)
			}
		}
		pipe.Set(ctx, loanKey, data, 0)
		pipe.SAdd(ctx, r.key("loans", key.AssetID), key.Borrower)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write loan %s: %w", key, err)
	}
	return nil
}

func (r *Redis) LoansByAsset(ctx context.Context, assetID string) ([]types.Loan, error) {
	borrowers, err := r.client.SMembers(ctx, r.key("loans", assetID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list loans of %s: %w", assetID, err)
	}
	sort.Strings(borrowers)

	out := make([]types.Loan, 0, len(borrowers))
	for _, b := range borrowers {
		loan, err := r.GetLoan(ctx, types.LoanKey{AssetID: assetID, Borrower: b})
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, loan)
	}
	return out, nil
}

func (r *Redis) LoanHistory(ctx context.Context, key types.LoanKey) ([]types.Loan, error) {
	raw, err := r.client.LRange(ctx, r.key("loanhistory", key.AssetID, key.Borrower), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loan history %s: %w", key, err)
	}
	out := make([]types.Loan, 0, len(raw))
	for _, item := range raw {
		var l types.Loan
		if err := json.Unmarshal([]byte(item), &l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// ApplyRisk watches the asset and its observation list, takes the next
// sequence from the list length and writes everything in one MULTI.
func (r *Redis) ApplyRisk(ctx context.Context, asset types.Asset, obs types.RiskObservation, workflowID string) (types.RiskObservation, error) {
	assetKey := r.key("asset", asset.AssetID)
	obsKey := r.key("observations", asset.AssetID)
	obs.AssetID = asset.AssetID

	assetData, err := json.Marshal(asset)
	if err != nil {
		return types.RiskObservation{}, err
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, assetKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		count, err := tx.LLen(ctx, obsKey).Result()
		if err != nil {
			return err
		}
		obs.Sequence = uint64(count) + 1
		obsData, err := json.Marshal(obs)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, assetKey, assetData, redis.KeepTTL)
			pipe.RPush(ctx, obsKey, obsData)
			if workflowID != "" {
				pipe.SAdd(ctx, r.key("workflows", asset.AssetID), workflowID)
			}
			return nil
		})
		return err
	}, assetKey, obsKey)
	if errors.Is(err, ErrNotFound) {
		return types.RiskObservation{}, err
	}
	if err != nil {
		return types.RiskObservation{}, fmt.Errorf("apply risk to %s: %w", asset.AssetID, err)
	}
	return obs, nil
}

func (r *Redis) Observations(ctx context.Context, assetID string) ([]types.RiskObservation, error) {
	raw, err := r.client.LRange(ctx, r.key("observations", assetID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("observations of %s: %w", assetID, err)
	}
	out := make([]types.RiskObservation, 0, len(raw))
	for _, item := range raw {
		var o types.RiskObservation
		if err := json.Unmarshal([]byte(item), &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *Redis) LatestObservation(ctx context.Context, assetID string) (types.RiskObservation, error) {
	raw, err := r.client.LIndex(ctx, r.key("observations", assetID), -1).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.RiskObservation{}, ErrNotFound
	}
	if err != nil {
		return types.RiskObservation{}, fmt.Errorf("latest observation of %s: %w", assetID, err)
	}
	var o types.RiskObservation
	if err := json.Unmarshal(raw, &o); err != nil {
		return types.RiskObservation{}, err
	}
	return o, nil
}

func (r *Redis) HasWorkflow(ctx context.Context, assetID, workflowID string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.key("workflows", assetID), workflowID).Result()
	if err != nil {
		return false, fmt.Errorf("check workflow %s: %w", workflowID, err)
	}
	return ok, nil
}

// Close is a no-op: the client is owned by the services package.
func (r *Redis) Close() error { return nil }

func (r *Redis) getJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return json.Unmarshal(raw, v)
}
