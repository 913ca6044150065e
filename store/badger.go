package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"rwa/internal/logger"
	"rwa/types"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig configures the embedded store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM; used by tests.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// Logger receives badger's internal logs. Nil disables them.
	Logger *logger.Logger
}

// Badger stores records under these keys, values are JSON:
//
//	asset/<asset>
//	loan/<asset>/<borrower>
//	loanhistory/<asset>/<borrower>/<seq:8 bytes big-endian>
//	obs/<asset>/<seq:8 bytes big-endian>
//	obsseq/<asset>
//	wf/<asset>/<workflow>
//
// Asset ids and borrowers are length-prefixed inside keys so prefixes of one
// id never match another.
type Badger struct {
	db *badger.DB
}

type badgerLogger struct {
	log *logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger: path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{log: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) CreateAsset(_ context.Context, asset types.Asset) error {
	return b.db.Update(func(txn *badger.Txn) error {
		k := bkey("asset", asset.AssetID)
		if _, err := txn.Get(k); err == nil {
			return ErrExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, k, asset)
	})
}

func (b *Badger) GetAsset(_ context.Context, assetID string) (types.Asset, error) {
	var asset types.Asset
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, bkey("asset", assetID), &asset)
	})
	return asset, err
}

func (b *Badger) UpdateAsset(_ context.Context, asset types.Asset) error {
	return b.db.Update(func(txn *badger.Txn) error {
		k := bkey("asset", asset.AssetID)
		if _, err := txn.Get(k); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return setJSON(txn, k, asset)
	})
}

func (b *Badger) GetLoan(_ context.Context, key types.LoanKey) (types.Loan, error) {
	var loan types.Loan
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, bkey("loan", key.AssetID, key.Borrower), &loan)
	})
	return loan, err
}

func (b *Badger) PutLoan(_ context.Context, loan types.Loan) error {
	key := loan.Key()
	return b.db.Update(func(txn *badger.Txn) error {
		k := bkey("loan", key.AssetID, key.Borrower)

		var prev types.Loan
		err := getJSON(txn, k, &prev)
		switch {
		case err == nil && prev.ID != loan.ID:
			histPrefix := bkey("loanhistory", key.AssetID, key.Borrower)
			n, err := countPrefix(txn, histPrefix)
			if err != nil {
				return err
			}
			if err := setJSON(txn, withSeq(histPrefix, n+1), prev); err != nil {
				return err
			}
		case err != nil && !errors.Is(err, ErrNotFound):
			return err
		}
		return setJSON(txn, k, loan)
	})
}

func (b *Badger) LoansByAsset(_ context.Context, assetID string) ([]types.Loan, error) {
	out := []types.Loan{}
	err := b.db.View(func(txn *badger.Txn) error {
		// borrowers are length-prefixed, so byte order is not lexical order;
		// sort after collecting.
		return eachPrefix(txn, bkey("loan", assetID), func(val []byte) error {
			var l types.Loan
			if err := json.Unmarshal(val, &l); err != nil {
				return err
			}
			out = append(out, l)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortLoans(out)
	return out, nil
}

func (b *Badger) LoanHistory(_ context.Context, key types.LoanKey) ([]types.Loan, error) {
	out := []types.Loan{}
	err := b.db.View(func(txn *badger.Txn) error {
		return eachPrefix(txn, bkey("loanhistory", key.AssetID, key.Borrower), func(val []byte) error {
			var l types.Loan
			if err := json.Unmarshal(val, &l); err != nil {
				return err
			}
			out = append(out, l)
			return nil
		})
	})
	return out, err
}

func (b *Badger) ApplyRisk(_ context.Context, asset types.Asset, obs types.RiskObservation, workflowID string) (types.RiskObservation, error) {
	obs.AssetID = asset.AssetID
	err := b.db.Update(func(txn *badger.Txn) error {
		assetKey := bkey("asset", asset.AssetID)
		if _, err := txn.Get(assetKey); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}

		seqKey := bkey("obsseq", asset.AssetID)
		var seq uint64
		item, err := txn.Get(seqKey)
		switch {
		case err == nil:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			seq = binary.BigEndian.Uint64(raw)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		seq++
		obs.Sequence = seq

		if err := setJSON(txn, assetKey, asset); err != nil {
			return err
		}
		if err := txn.Set(seqKey, binary.BigEndian.AppendUint64(nil, seq)); err != nil {
			return err
		}
		if err := setJSON(txn, withSeq(bkey("obs", asset.AssetID), seq), obs); err != nil {
			return err
		}
		if workflowID == "" {
			return nil
		}
		return txn.Set(bkey("wf", asset.AssetID, workflowID), []byte{1})
	})
	if err != nil {
		return types.RiskObservation{}, err
	}
	return obs, nil
}

func (b *Badger) Observations(_ context.Context, assetID string) ([]types.RiskObservation, error) {
	out := []types.RiskObservation{}
	err := b.db.View(func(txn *badger.Txn) error {
		return eachPrefix(txn, bkey("obs", assetID), func(val []byte) error {
			var o types.RiskObservation
			if err := json.Unmarshal(val, &o); err != nil {
				return err
			}
			out = append(out, o)
			return nil
		})
	})
	return out, err
}

func (b *Badger) LatestObservation(_ context.Context, assetID string) (types.RiskObservation, error) {
	var obs types.RiskObservation
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := bkey("obs", assetID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// seek past every 8-byte sequence under prefix
		it.Seek(append(append([]byte{}, prefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF))
		if !it.ValidForPrefix(prefix) {
			return ErrNotFound
		}
		return it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &obs)
		})
	})
	return obs, err
}

func (b *Badger) HasWorkflow(_ context.Context, assetID, workflowID string) (bool, error) {
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(bkey("wf", assetID, workflowID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// bkey builds "<kind>/" followed by each part as a 2-byte length and its bytes.
func bkey(kind string, parts ...string) []byte {
	k := append([]byte(kind), '/')
	for _, p := range parts {
		k = binary.BigEndian.AppendUint16(k, uint16(len(p)))
		k = append(k, p...)
	}
	return k
}

func withSeq(prefix []byte, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, prefix...), seq)
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func eachPrefix(txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func countPrefix(txn *badger.Txn, prefix []byte) (uint64, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()
	var n uint64
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n, nil
}
