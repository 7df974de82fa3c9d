package queuesvc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/trezcool/tahadhari/core"
	"github.com/trezcool/tahadhari/core/alert"
)

const (
	subjectPrefix = "alerts.task."
	streamMaxAge  = 24 * time.Hour
	ackWait       = 2 * time.Minute
	maxDeliver    = 3
)

func subject(kind alert.TaskKind) string { return subjectPrefix + string(kind) }

// Connect dials NATS with retries; the client keeps reconnecting afterwards.
func Connect(url string, logger core.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("tahadhari"),
		nats.Timeout(5 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", map[string]interface{}{"url": nc.ConnectedUrl()})
		}),
	}

	var (
		nc  *nats.Conn
		err error
	)
	for attempt := 1; attempt <= 5; attempt++ {
		if nc, err = nats.Connect(url, opts...); err == nil {
			return nc, nil
		}
		logger.Warn("connecting to NATS", err, map[string]interface{}{"attempt": attempt})
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	return nil, errors.Wrap(err, "connecting to NATS")
}

// NATS publishes tasks to a JetStream stream and consumes them through a durable queue group,
// so several API instances share the work.
type NATS struct {
	js      nats.JetStreamContext
	stream  string
	durable string
	workers int
	timeout time.Duration
	logger  core.Logger

	mu       sync.Mutex
	sub      *nats.Subscription
	stopping bool // set by Stop; wg.Add only happens under mu while false
	sem      chan struct{}
	wg       sync.WaitGroup
}

var _ Queue = (*NATS)(nil)

func NewNATS(js nats.JetStreamContext, conf core.NATSConfig, timeout time.Duration, logger core.Logger) (*NATS, error) {
	q := &NATS{
		js:      js,
		stream:  conf.Stream,
		durable: conf.Durable,
		workers: conf.Workers,
		timeout: timeout,
		logger:  logger,
	}
	if q.workers <= 0 {
		q.workers = 1
	}
	if err := q.ensureStream(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *NATS) ensureStream() error {
	cfg := &nats.StreamConfig{
		Name:       q.stream,
		Subjects:   []string{subjectPrefix + "*"},
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		MaxAge:     streamMaxAge,
		Duplicates: time.Hour,
	}
	_, err := q.js.StreamInfo(q.stream)
	switch {
	case err == nil:
		_, err = q.js.UpdateStream(cfg)
		return errors.Wrapf(err, "updating stream %s", q.stream)
	case errors.Is(err, nats.ErrStreamNotFound):
		_, err = q.js.AddStream(cfg)
		return errors.Wrapf(err, "creating stream %s", q.stream)
	default:
		return errors.Wrapf(err, "reading stream %s", q.stream)
	}
}

// Enqueue publishes the task; the task ID doubles as the JetStream message ID, so a retried
// publish is deduplicated.
func (q *NATS) Enqueue(ctx context.Context, t alert.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "encoding task")
	}
	if _, err = q.js.Publish(subject(t.Kind), data, nats.Context(ctx), nats.MsgId(t.ID)); err != nil {
		return errors.Wrap(err, "publishing task")
	}
	return nil
}

// Start subscribes the handler. Messages are acked once handled, whatever the outcome:
// a failed generation is logged and left to the next sweep rather than redelivered.
func (q *NATS) Start(handler alert.TaskHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sub != nil {
		return nil
	}

	q.stopping = false
	q.sem = make(chan struct{}, q.workers)
	sub, err := q.js.QueueSubscribe(subjectPrefix+"*", q.durable, func(msg *nats.Msg) {
		var t alert.Task
		if err := json.Unmarshal(msg.Data, &t); err != nil {
			q.logger.Error("decoding alert task", err, map[string]interface{}{"subject": msg.Subject})
			_ = msg.Term()
			return
		}

		q.mu.Lock()
		if q.stopping {
			q.mu.Unlock()
			// left for another instance, or for this one once restarted
			_ = msg.Nak()
			return
		}
		q.wg.Add(1)
		q.mu.Unlock()

		q.sem <- struct{}{}
		go func() {
			defer func() {
				<-q.sem
				q.wg.Done()
			}()
			run(handler, t, q.timeout, q.logger)
			if err := msg.Ack(); err != nil {
				q.logger.Error("acking alert task", err, map[string]interface{}{"task_id": t.ID})
			}
		}()
	},
		nats.Durable(q.durable),
		nats.ManualAck(),
		nats.AckWait(ackWait),
		nats.MaxDeliver(maxDeliver),
		nats.MaxAckPending(q.workers*4),
	)
	if err != nil {
		return errors.Wrap(err, "subscribing to alert tasks")
	}
	q.sub = sub
	return nil
}

// Stop drains the subscription then waits for in-flight tasks, or for ctx.
// Messages the drain still delivers are nacked, not handled.
func (q *NATS) Stop(ctx context.Context) error {
	q.mu.Lock()
	sub := q.sub
	q.sub = nil
	q.stopping = true
	q.mu.Unlock()
	if sub == nil {
		return nil
	}
	if err := sub.Drain(); err != nil {
		q.logger.Warn("draining alert task subscription", err)
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for alert tasks")
	}
}
