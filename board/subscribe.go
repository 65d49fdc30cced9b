package board

import (
	"context"
	"encoding/json"
	"time"

	"boardflow/domain"
)

// Snapshot is one element of a subscription stream. Err is set when a
// refetch after a change event failed; Boards then still carries the last
// good projection.
type Snapshot struct {
	Boards []domain.Board
	Err    error
}

// Subscription delivers a snapshot for every observed change of the
// business's boards. Close it when done.
type Subscription struct {
	ch     chan Snapshot
	cancel context.CancelFunc
}

// Updates returns the snapshot channel. It is closed after Close or when
// the subscribing context ends.
func (s *Subscription) Updates() <-chan Snapshot { return s.ch }

// Close stops the subscription and releases the pub/sub connection.
func (s *Subscription) Close() { s.cancel() }

// Subscribe emits an initial snapshot of the business's boards and then a
// fresh one after every change event. Slow consumers only miss intermediate
// states; the latest snapshot is always delivered eventually.
func (s *Store) Subscribe(ctx context.Context, businessID string) (*Subscription, error) {
	if businessID == "" {
		return nil, domain.ErrNoBusiness
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{ch: make(chan Snapshot, 1), cancel: cancel}

	boards, err := s.Boards(ctx, businessID)
	if err != nil {
		cancel()
		return nil, err
	}
	sub.ch <- Snapshot{Boards: boards}

	go s.run(ctx, businessID, sub, boards)
	return sub, nil
}

// run refetches after every change event. last starts as the initial
// snapshot so error snapshots never regress below it.
func (s *Store) run(ctx context.Context, businessID string, sub *Subscription, last []domain.Board) {
	defer close(sub.ch)
	for {
		ps := s.rc.Subscribe(ctx, s.channel)
		ch := ps.Channel()
	receive:
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				var ev changeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.logger.Errorf("unable to parse update: %v", err)
					continue
				}
				if ev.BusinessID != businessID {
					continue
				}
				boards, err := s.Boards(ctx, businessID)
				if err != nil {
					s.logger.Errorf("fetch boards for %s: %v", businessID, err)
					sub.deliver(ctx, Snapshot{Boards: last, Err: err})
					continue
				}
				last = boards
				sub.deliver(ctx, Snapshot{Boards: boards})
			}
		}
		_ = ps.Close()
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}

// deliver replaces a pending unread snapshot so a stalled consumer always
// sees the newest state next.
func (sub *Subscription) deliver(ctx context.Context, snap Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case sub.ch <- snap:
			return
		default:
			select {
			case <-sub.ch:
			default:
			}
		}
	}
}
