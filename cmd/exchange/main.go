package main

import (
	"context"
	"flag"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"talos/config"
	"talos/domain/orderbook"
	"talos/engine"
	"talos/gateway"
	"talos/infra/journal"
	"talos/infra/outbox"
	"talos/infra/sequence"
	"talos/infra/spsc"
	"talos/jobs/dropcopy"
	"talos/jobs/journaler"
	"talos/logging"
	"talos/marketdata"
	"talos/metrics"
	"talos/observability"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}

	log, err := logging.New(cfg.Service, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	met := metrics.New()

	// ---------------- Rings ----------------

	engineIn := spsc.New[orderbook.Request](cfg.Engine.RingSize)
	responses := spsc.New[orderbook.Response](cfg.Engine.RingSize)
	events := spsc.New[orderbook.Event](cfg.Engine.RingSize)
	journalRing := spsc.New[orderbook.Request](cfg.Engine.RingSize)
	snapRing := spsc.New[marketdata.Record](cfg.Engine.RingSize)

	var dropCopyRing *spsc.Ring[gateway.Outbound]
	if cfg.DropCopy.Enabled {
		dropCopyRing = spsc.New[gateway.Outbound](cfg.Engine.RingSize)
	}

	// ---------------- Engine ----------------

	ids := sequence.New(0)
	eng := engine.New(
		cfg.Engine.Instruments,
		cfg.Engine.PoolSize,
		ids,
		engineIn,
		responses,
		events,
		journalRing,
		log,
		met,
	)

	// ---------------- Journal replay ----------------

	jrn, err := journal.Open(journal.Config{
		Dir:         cfg.Journal.Dir,
		SegmentSize: cfg.Journal.SegmentSize,
	})
	if err != nil {
		log.Fatal("journal open failed", zap.Error(err))
	}
	defer func() { _ = jrn.Close() }()

	replayed := 0
	lastSeq, err := journal.Replay(cfg.Journal.Dir, func(rec *journal.Record) error {
		req, err := journal.DecodeRecord(rec)
		if err != nil {
			return err
		}
		eng.ReplayApply(req)
		replayed++
		return nil
	})
	if err != nil {
		log.Fatal("journal replay failed", zap.Error(err))
	}
	log.Info("journal replayed",
		zap.Int("requests", replayed),
		zap.Uint64("last_seq", lastSeq),
		zap.Uint64("last_order_id", ids.Current()))

	jw := journaler.New(journalRing, jrn, lastSeq, log)

	// ---------------- Gateway ----------------

	seq := gateway.NewFIFOSequencer(cfg.Gateway.PendingCap, engineIn, log)
	gw := gateway.New(cfg.Gateway.Listen, cfg.Gateway.ConnRingSize, cfg.Gateway.FlushEvery,
		seq, responses, dropCopyRing, log, met)
	if err := gw.Listen(); err != nil {
		log.Fatal("gateway listen failed", zap.Error(err))
	}

	// ---------------- Market data ----------------

	var tr marketdata.Transport
	switch cfg.MarketData.Transport {
	case "kafka":
		tr = marketdata.NewKafkaTransport(cfg.MarketData.KafkaBrokers, cfg.MarketData.KafkaTopic)
	default:
		tr, err = marketdata.NewUDPTransport(cfg.MarketData.MulticastAddr, cfg.MarketData.Interface)
		if err != nil {
			log.Fatal("multicast transport failed", zap.Error(err))
		}
	}
	defer func() { _ = tr.Close() }()

	pub := marketdata.NewPublisher(events, snapRing, tr, log, met)
	syn := marketdata.NewSynthesizer(snapRing, tr, cfg.Engine.Instruments,
		cfg.MarketData.SnapshotInterval, log, met)

	// ---------------- Drop copy ----------------

	var dc *dropcopy.DropCopy
	if cfg.DropCopy.Enabled {
		box, err := outbox.Open(cfg.DropCopy.Dir)
		if err != nil {
			log.Fatal("outbox open failed", zap.Error(err))
		}
		defer func() { _ = box.Close() }()

		producer, err := dropcopy.NewProducer(cfg.DropCopy.Brokers)
		if err != nil {
			log.Fatal("drop copy producer failed", zap.Error(err))
		}
		dc, err = dropcopy.New(dropCopyRing, box, producer, cfg.DropCopy.Topic,
			cfg.DropCopy.Interval, log, met)
		if err != nil {
			log.Fatal("drop copy init failed", zap.Error(err))
		}
		defer func() { _ = dc.Close() }()
	}

	// ---------------- Admin ----------------

	admin := observability.New(cfg.Admin.GRPCListen, cfg.Admin.HTTPListen, met, log)
	if err := admin.Start(); err != nil {
		log.Fatal("admin start failed", zap.Error(err))
	}

	// ---------------- Run ----------------

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	run(eng.Run)
	run(jw.Run)
	run(gw.Run)
	run(pub.Run)
	run(syn.Run)
	if dc != nil {
		run(dc.Run)
	}

	admin.SetReady(true)
	log.Info("venue running", zap.String("gateway", gw.Addr().String()))

	<-ctx.Done()
	log.Info("shutting down")
	admin.SetReady(false)
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	admin.Stop(shutdownCtx)
}
