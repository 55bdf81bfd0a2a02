package relay

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"cipherchat/cmd/internal/codec"
)

// Inbound is a decoded message handed to the relay by a session.
type Inbound struct {
	SessionID  string
	From       string
	Msg        codec.Message
	ReceivedAt time.Time
}

// DispatchResult summarises one relayed message.
type DispatchResult struct {
	Seq       uint64
	Delivered int
	Failed    int
}

// Relay serialises inbound messages through one consumer goroutine and fans each
// out to every registered session except the sender. The global broadcast order is
// the order in which Publish calls are accepted.
//
// Each recipient gets its own encoding, so no two outbound frames share an IV.
type Relay struct {
	log      *slog.Logger
	codec    *codec.Codec
	registry *Registry
	journal  Journal
	metrics  *Metrics

	in   chan Inbound
	seq  uint64 // owned by the Run goroutine
	done chan struct{}
	once sync.Once
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithJournal records metadata of every relayed message in j.
func WithJournal(j Journal) RelayOption {
	return func(r *Relay) { r.journal = j }
}

// WithMetrics sets the collectors updated by the relay.
func WithMetrics(m *Metrics) RelayOption {
	return func(r *Relay) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithQueueSize sets the inbound queue capacity.
func WithQueueSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.in = make(chan Inbound, n)
		}
	}
}

// NewRelay constructs a Relay. Run must be called for messages to flow.
func NewRelay(log *slog.Logger, c *codec.Codec, reg *Registry, opts ...RelayOption) *Relay {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	r := &Relay{
		log:      log,
		codec:    c,
		registry: reg,
		metrics:  NewMetrics(nil),
		in:       make(chan Inbound, defaultRelayQueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Publish hands a message to the relay. It blocks while the inbound queue is full,
// which back-pressures the publishing session's read loop.
func (r *Relay) Publish(ctx context.Context, in Inbound) error {
	select {
	case <-r.done:
		return ErrRelayClosed
	default:
	}

	select {
	case r.in <- in:
		return nil
	case <-r.done:
		return ErrRelayClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes published messages until ctx is cancelled. It must be called once.
func (r *Relay) Run(ctx context.Context) error {
	defer r.once.Do(func() { close(r.done) })

	r.log.Info("relay.start", slog.Int("queue", cap(r.in)))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay.stop", slog.Uint64("last_seq", r.seq))
			return nil
		case in := <-r.in:
			r.dispatch(ctx, in)
		}
	}
}

// Done is closed once Run has returned.
func (r *Relay) Done() <-chan struct{} { return r.done }

func (r *Relay) dispatch(ctx context.Context, in Inbound) DispatchResult {
	r.seq++
	res := DispatchResult{Seq: r.seq}
	r.metrics.MessagesRelayed.Inc()

	if r.journal != nil {
		jctx, cancel := context.WithTimeout(ctx, journalAppendTimeout)
		rec, err := r.journal.Append(jctx, NewJournalEntry(res.Seq, in))
		cancel()
		if err != nil {
			r.metrics.JournalErrors.Inc()
			r.log.Warn("relay.journal.fail",
				slog.Uint64("seq", res.Seq),
				slog.String("session_id", in.SessionID),
				slog.String("err", err.Error()),
			)
		} else {
			r.log.Debug("relay.journal.append",
				slog.Uint64("seq", res.Seq),
				slog.Int64("journal_seq", rec.Seq),
			)
		}
	}

	for _, h := range r.registry.Snapshot() {
		if h.Addr == in.From {
			continue
		}

		err := r.deliver(h, in.Msg)
		r.metrics.Deliveries.WithLabelValues(deliveryResult(err)).Inc()
		if err != nil {
			res.Failed++
			de := DeliveryError{SessionID: h.ID, Addr: h.Addr, Err: err}
			r.log.Warn("relay.deliver.drop",
				slog.Uint64("seq", res.Seq),
				slog.String("session_id", h.ID),
				slog.String("peer", h.Addr),
				slog.String("err", de.Error()),
			)
			continue
		}
		res.Delivered++
	}

	r.log.Debug("relay.dispatch",
		slog.Uint64("seq", res.Seq),
		slog.String("session_id", in.SessionID),
		slog.String("peer", in.From),
		slog.Int("delivered", res.Delivered),
		slog.Int("failed", res.Failed),
	)
	return res
}

func (r *Relay) deliver(h *Handle, msg codec.Message) error {
	frame, err := r.codec.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return h.Enqueue(frame)
}
