// Package memory is an in-process store with the same compare-and-set and
// transaction semantics as the mongodb repositories. It backs the dev mode
// of the server and the service tests.
package memory

import (
	"context"
	"sync"

	"ridedispatch/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type txKey struct{}

type txState struct {
	store *Store
	undo  []func()
}

// Store holds rides and drivers behind one mutex. WithTransaction keeps the
// mutex for the whole callback; repository calls made with the transaction
// context reuse the held lock and record undo steps.
type Store struct {
	mu      sync.Mutex
	rides   map[primitive.ObjectID]*models.Ride
	drivers map[primitive.ObjectID]*models.Driver
}

func NewStore() *Store {
	return &Store{
		rides:   make(map[primitive.ObjectID]*models.Ride),
		drivers: make(map[primitive.ObjectID]*models.Driver),
	}
}

func (s *Store) txFrom(ctx context.Context) *txState {
	tx, _ := ctx.Value(txKey{}).(*txState)
	if tx != nil && tx.store == s {
		return tx
	}
	return nil
}

// lock acquires the store lock unless ctx already holds it through a
// transaction. The returned func releases what was acquired.
func (s *Store) lock(ctx context.Context) (*txState, func()) {
	if tx := s.txFrom(ctx); tx != nil {
		return tx, func() {}
	}
	s.mu.Lock()
	return nil, s.mu.Unlock
}

func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txFrom(ctx) != nil {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txState{store: s}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

func (s *Store) putRide(tx *txState, ride *models.Ride) {
	prev, existed := s.rides[ride.ID]
	s.rides[ride.ID] = ride
	if tx != nil {
		id := ride.ID
		tx.undo = append(tx.undo, func() {
			if existed {
				s.rides[id] = prev
			} else {
				delete(s.rides, id)
			}
		})
	}
}

func (s *Store) putDriver(tx *txState, driver *models.Driver) {
	prev, existed := s.drivers[driver.ID]
	s.drivers[driver.ID] = driver
	if tx != nil {
		id := driver.ID
		tx.undo = append(tx.undo, func() {
			if existed {
				s.drivers[id] = prev
			} else {
				delete(s.drivers, id)
			}
		})
	}
}
