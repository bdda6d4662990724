// Package users is the entity service that commits user mutations to its
// store and then announces them through a lifecycle notifier.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lifecycle/internal/couchbase"
	"lifecycle/internal/lifecycle"
	"lifecycle/internal/validator"
)

var (
	ErrNotFound     = errors.New("user not found")
	ErrInvalidInput = errors.New("invalid user")
	ErrConflict     = errors.New("user changed concurrently")
)

// User is the stored entity.
type User struct {
	couchbase.Cas `json:"-"`

	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists users by id. Insert records the write's CAS on the user and
// Remove only succeeds while the stored CAS still matches.
type Store interface {
	Insert(ctx context.Context, key string, value *User) error
	Get(ctx context.Context, key string) (*User, error)
	Remove(ctx context.Context, key string, cas uint64) error
}

// OperationRecorder counts committed and failed mutations.
type OperationRecorder interface {
	RecordUserOperation(operation string, err error)
}

type Service struct {
	store    Store
	notifier lifecycle.Notifier
	logger   *zap.Logger
	recorder OperationRecorder
	now      func() time.Time
}

type Option func(*Service)

// WithRecorder records every Create and Delete outcome.
func WithRecorder(recorder OperationRecorder) Option {
	return func(s *Service) {
		s.recorder = recorder
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store Store, notifier lifecycle.Notifier, logger *zap.Logger, opts ...Option) (*Service, error) {
	if err := validator.Validate("users service", store, notifier, logger); err != nil {
		return nil, err
	}

	s := &Service{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Create stores a new user and then publishes user_created. A publish
// failure is logged and does not fail the call.
func (s *Service) Create(ctx context.Context, name, email string) (*User, error) {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	if name == "" || email == "" {
		return nil, fmt.Errorf("%w: name and email are required", ErrInvalidInput)
	}

	user := User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		CreatedAt: s.now().UTC(),
	}

	if err := s.store.Insert(ctx, user.ID, &user); err != nil {
		s.record("create", err)
		return nil, fmt.Errorf("failed to store user: %w", err)
	}
	s.record("create", nil)

	payload := lifecycle.Payload{
		lifecycle.F("name", user.Name),
		lifecycle.F("email", user.Email),
	}
	ack, err := s.notifier.PublishCreated(ctx, user.ID, payload, user.CreatedAt)
	s.logPublish(lifecycle.UserCreated, user.ID, ack, err)

	return &user, nil
}

// Get returns the user with id or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	user, err := s.store.Get(ctx, id)
	if errors.Is(err, couchbase.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}

	return user, nil
}

// Delete removes the user as last read and then publishes user_deleted. It
// reports whether a user was removed; a missing user publishes nothing and a
// user changed since the read returns ErrConflict.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	user, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		s.record("delete", err)
		return false, err
	}

	err = s.store.Remove(ctx, id, user.GetCas())
	switch {
	case errors.Is(err, couchbase.ErrNotFound):
		return false, nil
	case errors.Is(err, couchbase.ErrCasMismatch):
		err = fmt.Errorf("%w: %s", ErrConflict, id)
	case err != nil:
		err = fmt.Errorf("failed to delete user %s: %w", id, err)
	}
	s.record("delete", err)
	if err != nil {
		return false, err
	}

	ack, err := s.notifier.PublishDeleted(ctx, id, s.now())
	s.logPublish(lifecycle.UserDeleted, id, ack, err)

	return true, nil
}

func (s *Service) record(operation string, err error) {
	if s.recorder != nil {
		s.recorder.RecordUserOperation(operation, err)
	}
}

func (s *Service) logPublish(eventType lifecycle.EventType, id string, ack lifecycle.Ack, err error) {
	if err == nil {
		s.logger.Debug("lifecycle event published",
			zap.String("event_type", string(eventType)),
			zap.String("entity_id", id),
			zap.Int("partition", ack.Partition),
			zap.Int64("offset", ack.Offset))
		return
	}

	s.logger.Warn("lifecycle event not published; local change kept",
		zap.String("event_type", string(eventType)),
		zap.String("entity_id", id),
		zap.String("outcome", lifecycle.Outcome(err)),
		zap.Error(err))
}
