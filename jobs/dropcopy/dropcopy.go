// Package dropcopy delivers every execution report to a Kafka topic
// at-least-once, staging through the durable outbox so reports survive
// restarts and broker outages.
package dropcopy

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"talos/gateway"
	"talos/infra/outbox"
	"talos/infra/sequence"
	"talos/infra/spsc"
	"talos/metrics"
)

// resendAfter bounds how long a SENT entry waits for its ack before it
// is considered lost and redelivered.
const resendAfter = 30 * time.Second

type DropCopy struct {
	in       *spsc.Ring[gateway.Outbound]
	box      *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration

	// ids numbers the drop-copy stream globally. Outbound.Seq is the
	// per-client outgoing counter and collides across clients, so it
	// stays inside the payload and never keys the outbox.
	ids *sequence.Sequencer

	log *zap.Logger
	met *metrics.Metrics
}

// NewProducer builds the synchronous producer used for delivery. Drop
// copy is the audit trail, so it waits for full ISR acks.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	return sarama.NewSyncProducer(brokers, cfg)
}

// New resumes the drop-copy sequence from the highest entry already
// staged, so numbering stays unique across restarts.
func New(
	in *spsc.Ring[gateway.Outbound],
	box *outbox.Outbox,
	producer sarama.SyncProducer,
	topic string,
	interval time.Duration,
	log *zap.Logger,
	met *metrics.Metrics,
) (*DropCopy, error) {
	maxSeq, err := box.MaxSeq()
	if err != nil {
		return nil, err
	}
	return &DropCopy{
		in:       in,
		box:      box,
		producer: producer,
		topic:    topic,
		interval: interval,
		ids:      sequence.New(maxSeq),
		log:      log,
		met:      met,
	}, nil
}

// Run stages incoming reports continuously and pushes pending entries
// to the broker on a fixed period.
func (d *DropCopy) Run(ctx context.Context) {
	d.log.Info("drop copy started",
		zap.String("topic", d.topic),
		zap.Uint64("resume_seq", d.ids.Current()))
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.stage()
			d.log.Info("drop copy stopped")
			return
		case <-ticker.C:
			d.stage()
			d.publishPending()
		default:
			if !d.stage() {
				time.Sleep(time.Millisecond)
			}
		}
	}
}

// stage drains the ring into the outbox under fresh global sequence
// numbers. Returns whether it did work.
func (d *DropCopy) stage() bool {
	staged := false
	var buf [gateway.ResponseSize]byte
	for {
		out, ok := d.in.Pop()
		if !ok {
			return staged
		}
		gateway.EncodeResponse(buf[:], out.Seq, out.Resp)
		if err := d.box.PutNew(d.ids.Next(), buf[:]); err != nil {
			// Losing the audit record is worse than stopping.
			d.log.Fatal("outbox put failed",
				zap.Uint64("seq", d.ids.Current()), zap.Error(err))
		}
		staged = true
	}
}

func (d *DropCopy) publishPending() {
	var highestAcked uint64
	err := d.box.ScanPending(resendAfter, func(e *outbox.Entry) error {
		if err := d.box.MarkSent(e.Seq); err != nil {
			return err
		}

		var key [8]byte
		binary.BigEndian.PutUint64(key[:], e.Seq)
		msg := &sarama.ProducerMessage{
			Topic: d.topic,
			Key:   sarama.ByteEncoder(key[:]),
			Value: sarama.ByteEncoder(e.Payload),
		}
		if _, _, err := d.producer.SendMessage(msg); err != nil {
			d.log.Warn("drop copy send failed",
				zap.Uint64("seq", e.Seq),
				zap.Uint32("retries", e.Retries),
				zap.Error(err))
			return d.box.MarkFailed(e.Seq)
		}

		if err := d.box.MarkAcked(e.Seq); err != nil {
			return err
		}
		if e.Seq > highestAcked {
			highestAcked = e.Seq
		}
		d.met.DropCopySent.Inc()
		return nil
	})
	if err != nil {
		d.log.Error("drop copy scan failed", zap.Error(err))
		return
	}

	if highestAcked > 0 {
		if err := d.box.PurgeAcked(highestAcked); err != nil {
			d.log.Error("outbox purge failed", zap.Error(err))
		}
	}
}

func (d *DropCopy) Close() error {
	return d.producer.Close()
}
