package services

import (
	"context"
	"fmt"
	"time"

	"ridedispatch/internal/models"
	"ridedispatch/pkg/cache"
	"ridedispatch/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type CacheService interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error

	CacheRide(ctx context.Context, ride *models.Ride, expiration time.Duration) error
	GetCachedRide(ctx context.Context, rideID primitive.ObjectID) (*models.Ride, error)
}

// CacheStore is the subset of the redis client the cache service needs.
type CacheStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

var _ CacheStore = (*cache.RedisCache)(nil)

type cacheService struct {
	store      CacheStore
	logger     *logger.Logger
	defaultTTL time.Duration
}

func NewCacheService(store CacheStore, log *logger.Logger, defaultTTL time.Duration) CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Minute
	}
	return &cacheService{
		store:      store,
		logger:     log.WithField("component", "cache"),
		defaultTTL: defaultTTL,
	}
}

func rideKey(id primitive.ObjectID) string { return fmt.Sprintf("ride:%s", id.Hex()) }

func (s *cacheService) Get(ctx context.Context, key string, dest interface{}) error {
	return s.store.Get(ctx, key, dest)
}

func (s *cacheService) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if expiration <= 0 {
		expiration = s.defaultTTL
	}
	return s.store.Set(ctx, key, value, expiration)
}

func (s *cacheService) Delete(ctx context.Context, keys ...string) error {
	return s.store.Delete(ctx, keys...)
}

func (s *cacheService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *cacheService) CacheRide(ctx context.Context, ride *models.Ride, expiration time.Duration) error {
	return s.Set(ctx, rideKey(ride.ID), ride, expiration)
}

func (s *cacheService) GetCachedRide(ctx context.Context, rideID primitive.ObjectID) (*models.Ride, error) {
	var ride models.Ride
	if err := s.store.Get(ctx, rideKey(rideID), &ride); err != nil {
		s.logMiss(err, rideKey(rideID))
		return nil, err
	}
	return &ride, nil
}

func (s *cacheService) logMiss(err error, key string) {
	if cache.IsMiss(err) {
		return
	}
	s.logger.WithError(err).WithField("key", key).Warn("Cache read failed")
}
