package pointwallet

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	walletinterfaces "github.com/kaigoh/pointwallet/wallet_interfaces"
)

var (
	settingsKey       = []byte("s:settings")
	historyPrefix     = []byte("h:")
	historySequenceID = []byte("q:history")
)

// Settings is the persisted part of the wallet configuration.
type Settings struct {
	Wallet walletinterfaces.Credentials `json:"wallet"`
}

// SettingsPatch updates only the non-nil parts.
type SettingsPatch struct {
	Wallet *walletinterfaces.Credentials `json:"wallet,omitempty"`
}

type SettingsStore interface {
	GetSettings(ctx context.Context) (Settings, error)
	UpdateSettings(ctx context.Context, patch SettingsPatch) error
}

type HistoryStore interface {
	AppendTransaction(ctx context.Context, rec TransactionRecord) error
	ListTransactions(ctx context.Context) ([]TransactionRecord, error)
}

// Store keeps settings and transaction history in badger.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

func OpenStore(cfg StateConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	seq, err := db.GetSequence(historySequenceID, 100)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, seq: seq}, nil
}

func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		slog.Warn("release history sequence", "error", err)
	}
	return s.db.Close()
}

func (s *Store) GetSettings(_ context.Context) (Settings, error) {
	var settings Settings
	err := s.db.View(func(txn *badger.Txn) error {
		return readSettings(txn, &settings)
	})
	return settings, err
}

func (s *Store) UpdateSettings(_ context.Context, patch SettingsPatch) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var settings Settings
		if err := readSettings(txn, &settings); err != nil {
			return err
		}
		if patch.Wallet != nil {
			settings.Wallet = *patch.Wallet
		}
		b, err := json.Marshal(settings)
		if err != nil {
			return err
		}
		return txn.Set(settingsKey, b)
	})
}

func readSettings(txn *badger.Txn, settings *Settings) error {
	item, err := txn.Get(settingsKey)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, settings)
	})
}

func (s *Store) AppendTransaction(_ context.Context, rec TransactionRecord) error {
	n, err := s.seq.Next()
	if err != nil {
		return err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(historyKey(n), b)
	})
}

func (s *Store) ListTransactions(_ context.Context) ([]TransactionRecord, error) {
	var records []TransactionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(historyPrefix); it.ValidForPrefix(historyPrefix); it.Next() {
			var rec TransactionRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

func historyKey(n uint64) []byte {
	key := make([]byte, len(historyPrefix)+8)
	copy(key, historyPrefix)
	binary.BigEndian.PutUint64(key[len(historyPrefix):], n)
	return key
}

// RunGC reclaims value log space until ctx ends.
func (s *Store) RunGC(ctx context.Context, every time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(every):
			_ = s.db.RunValueLogGC(0.7)
		}
	}
}
