package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/bcrypt"

	"computemesh/internal/domain"
)

const (
	bucketName   = "identities"
	secretBytes  = 32
	tokenDivider = "."
)

var ErrStoreClosed = errors.New("identity store is closed")

// Record is one stored identity. The token secret is kept only as a bcrypt hash.
type Record struct {
	Identity  domain.Identity `json:"identity"`
	Role      domain.Role     `json:"role"`
	TokenHash []byte          `json:"tokenHash,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Options struct {
	// Cost overrides the bcrypt cost; tests lower it.
	Cost int
}

// Store persists identities in a bbolt database.
type Store struct {
	mu     sync.RWMutex
	db     *bolt.DB
	path   string
	cost   int
	closed bool
}

func OpenStore(path string, opts Options) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("identity store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure identity store dir: %w", err)
	}
	db, err := bolt.Open(trimmed, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open identity store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init identity store: %w", err)
	}
	cost := opts.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Store{db: db, path: trimmed, cost: cost}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Add creates an identity and returns its bearer token. The token is not
// recoverable afterwards.
func (s *Store) Add(id domain.Identity, role domain.Role) (string, error) {
	if err := validateIdentity(id); err != nil {
		return "", err
	}
	secret, err := newSecret()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	record := Record{Identity: id, Role: role, TokenHash: hash, CreatedAt: time.Now().UTC()}
	value, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode identity: %w", err)
	}

	err = s.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get([]byte(id)) != nil {
			return fmt.Errorf("%w: %s", domain.ErrIdentityExists, id)
		}
		return bucket.Put([]byte(id), value)
	})
	if err != nil {
		return "", err
	}
	return string(id) + tokenDivider + secret, nil
}

// Remove deletes an identity.
func (s *Store) Remove(id domain.Identity) error {
	return s.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", domain.ErrIdentityNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
}

// Get returns one identity record.
func (s *Store) Get(id domain.Identity) (Record, error) {
	var record Record
	err := s.view(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(bucketName)).Get([]byte(id))
		if value == nil {
			return fmt.Errorf("%w: %s", domain.ErrIdentityNotFound, id)
		}
		return json.Unmarshal(value, &record)
	})
	return record, err
}

// List returns every identity sorted by name, without token hashes.
func (s *Store) List() ([]Record, error) {
	var records []Record
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(_, value []byte) error {
			var record Record
			if err := json.Unmarshal(value, &record); err != nil {
				return fmt.Errorf("decode identity: %w", err)
			}
			record.TokenHash = nil
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Identity < records[j].Identity })
	return records, nil
}

// Authenticate verifies a "<identity>.<secret>" token.
func (s *Store) Authenticate(_ context.Context, token string) (domain.Principal, error) {
	idx := strings.LastIndex(token, tokenDivider)
	if idx <= 0 || idx == len(token)-1 {
		return domain.Principal{}, domain.ErrUnauthenticated
	}
	id := domain.Identity(token[:idx])
	secret := token[idx+1:]

	record, err := s.Get(id)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return domain.Principal{}, domain.ErrUnauthenticated
		}
		return domain.Principal{}, err
	}
	if err := bcrypt.CompareHashAndPassword(record.TokenHash, []byte(secret)); err != nil {
		return domain.Principal{}, domain.ErrUnauthenticated
	}
	return domain.Principal{Identity: record.Identity, Role: record.Role}, nil
}

func (s *Store) view(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.Update(fn)
}

func validateIdentity(id domain.Identity) error {
	trimmed := strings.TrimSpace(string(id))
	if trimmed == "" || trimmed != string(id) {
		return fmt.Errorf("%w: identity must be non-empty without surrounding spaces", domain.ErrInvalidRequest)
	}
	return nil
}

func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

var _ domain.Authenticator = (*Store)(nil)
