// Package couchbase is a typed document store over the Couchbase Go SDK.
package couchbase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
)

var (
	// ErrNotFound is returned when the key does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrCasMismatch is returned when the document changed since its CAS
	// was read.
	ErrCasMismatch = errors.New("document changed concurrently")
)

// Config locates the bucket, scope and collection a Store works on.
type Config struct {
	ConnectionString string        `env:"COUCHBASE_CONNECTION_STRING" envDefault:"couchbase://localhost"`
	Username         string        `env:"COUCHBASE_USERNAME" envDefault:"Administrator"`
	Password         string        `env:"COUCHBASE_PASSWORD" envDefault:"password"`
	Bucket           string        `env:"COUCHBASE_BUCKET_NAME" envDefault:"lifecycle"`
	Scope            string        `env:"COUCHBASE_SCOPE_NAME" envDefault:"_default"`
	ConnectTimeout   time.Duration `env:"COUCHBASE_CONNECT_TIMEOUT" envDefault:"10s"`
	KVTimeout        time.Duration `env:"COUCHBASE_KV_TIMEOUT" envDefault:"5s"`
}

// Connect opens the cluster and waits for the bucket to be ready.
func Connect(config Config) (*gocb.Cluster, *gocb.Bucket, error) {
	cluster, err := gocb.Connect(config.ConnectionString, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		},
		TimeoutsConfig: gocb.TimeoutsConfig{
			ConnectTimeout: config.ConnectTimeout,
			KVTimeout:      config.KVTimeout,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	bucket := cluster.Bucket(config.Bucket)
	if err := bucket.WaitUntilReady(config.ConnectTimeout, nil); err != nil {
		_ = cluster.Close(nil)
		return nil, nil, fmt.Errorf("bucket %s not ready: %w", config.Bucket, err)
	}

	return cluster, bucket, nil
}

// Store provides typed key/value operations on one collection.
type Store[T any] struct {
	collection *gocb.Collection
}

// NewStore returns a Store for collection in the given scope.
func NewStore[T any](bucket *gocb.Bucket, scope, collection string) (*Store[T], error) {
	if bucket == nil || scope == "" || collection == "" {
		return nil, errors.New("invalid couchbase parameters: bucket, scope and collection are required")
	}

	return &Store[T]{collection: bucket.Scope(scope).Collection(collection)}, nil
}

// Insert creates a document. It fails if the key already exists. The CAS of
// the write is stored on value when it embeds Cas.
func (s *Store[T]) Insert(ctx context.Context, key string, value *T) error {
	res, err := s.collection.Insert(key, value, &gocb.InsertOptions{Context: ctx})
	if err != nil {
		return fmt.Errorf("failed to insert document with key %s: %w", key, err)
	}

	if c, ok := any(value).(CasSetter); ok {
		c.SetCas(uint64(res.Cas()))
	}

	return nil
}

// Get loads a document, returning ErrNotFound if it does not exist.
func (s *Store[T]) Get(ctx context.Context, key string) (*T, error) {
	res, err := s.collection.Get(key, &gocb.GetOptions{Context: ctx})
	switch {
	case err == nil:
	case errors.Is(err, gocb.ErrDocumentNotFound):
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("failed to get document with key %s: %w", key, err)
	}

	var v T
	if err := res.Content(&v); err != nil {
		return nil, fmt.Errorf("failed to parse document content for key %s: %w", key, err)
	}

	if c, ok := any(&v).(CasSetter); ok {
		c.SetCas(uint64(res.Cas()))
	}

	return &v, nil
}

// Remove deletes a document, returning ErrNotFound if it does not exist. A
// non-zero cas makes the removal conditional and returns ErrCasMismatch if
// the document changed since it was read.
func (s *Store[T]) Remove(ctx context.Context, key string, cas uint64) error {
	_, err := s.collection.Remove(key, &gocb.RemoveOptions{Context: ctx, Cas: gocb.Cas(cas)})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gocb.ErrDocumentNotFound):
		return ErrNotFound
	case errors.Is(err, gocb.ErrCasMismatch):
		return ErrCasMismatch
	default:
		return fmt.Errorf("failed to remove document with key %s: %w", key, err)
	}
}
