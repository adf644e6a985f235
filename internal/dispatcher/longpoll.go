package dispatcher

import (
	"context"
	"time"

	"github.com/ealebed/sqsmemu/internal/queue"
	"github.com/ealebed/sqsmemu/internal/registry"
	"github.com/ealebed/sqsmemu/internal/sqsmodel"
)

// receiveWithLongPoll implements ReceiveMessage's polling loop: attempt a
// receive, and if it comes back empty, sleep in bounded ticks until either a
// message becomes visible or waitTime elapses. The Registry lock is held
// only for the duration of each individual attempt, never across a sleep,
// per spec.md §5.
func receiveWithLongPoll(
	ctx context.Context,
	reg *registry.Registry,
	name string,
	max int,
	visibilityOverride time.Duration,
	hasOverride bool,
	waitTime time.Duration,
	tick time.Duration,
) ([]*sqsmodel.Message, error) {
	deadline := time.Now().Add(waitTime)

	for {
		var result []*sqsmodel.Message
		err := reg.WithQueue(name, func(q *queue.Queue) {
			result = q.Receive(max, visibilityOverride, hasOverride, time.Now())
		})
		if err != nil {
			return nil, err
		}
		if len(result) > 0 {
			return result, nil
		}

		now := time.Now()
		if !now.Before(deadline) {
			return result, nil
		}

		sleep := tick
		if remaining := deadline.Sub(now); remaining < sleep {
			sleep = remaining
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
