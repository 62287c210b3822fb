package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ridedispatch/pkg/logger"
	"ridedispatch/pkg/mq"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MessageBroker is the work queue shared by every server instance.
type MessageBroker interface {
	Publish(ctx context.Context, body []byte) error
	Consume(ctx context.Context, consumer string, handler mq.Handler) error
}

type matchMessage struct {
	RideID   string  `json:"ride_id"`
	RadiusKM float64 `json:"radius_km,omitempty"`
}

// BrokerQueue publishes match jobs to the broker and feeds jobs consumed
// from it into the local dispatcher, so whichever instance has spare
// workers runs the match.
type BrokerQueue struct {
	broker         MessageBroker
	local          MatchQueue
	publishTimeout time.Duration
	logger         *logger.Logger
}

func NewBrokerQueue(broker MessageBroker, local MatchQueue, log *logger.Logger) *BrokerQueue {
	return &BrokerQueue{
		broker:         broker,
		local:          local,
		publishTimeout: 5 * time.Second,
		logger:         log.WithField("component", "broker_queue"),
	}
}

func (q *BrokerQueue) Enqueue(job MatchJob) error {
	body, err := json.Marshal(matchMessage{RideID: job.RideID.Hex(), RadiusKM: job.RadiusKM})
	if err != nil {
		return fmt.Errorf("failed to encode match job: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.publishTimeout)
	defer cancel()

	if err := q.broker.Publish(ctx, body); err != nil {
		q.logger.WithRideID(job.RideID).WithError(err).Warn("Broker publish failed, matching locally")
		return q.local.Enqueue(job)
	}
	return nil
}

// Run consumes match jobs until ctx is done.
func (q *BrokerQueue) Run(ctx context.Context, consumer string) error {
	return q.broker.Consume(ctx, consumer, q.handle)
}

func (q *BrokerQueue) handle(ctx context.Context, body []byte) error {
	var msg matchMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("malformed match job: %v: %w", err, mq.ErrReject)
	}
	rideID, err := primitive.ObjectIDFromHex(msg.RideID)
	if err != nil {
		return fmt.Errorf("invalid ride id %q: %w", msg.RideID, mq.ErrReject)
	}

	// A full or stopped dispatcher returns an error and the broker requeues
	// the job for another instance.
	return q.local.Enqueue(MatchJob{RideID: rideID, RadiusKM: msg.RadiusKM})
}
