package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/polylog/internal/archive"
	"github.com/suPer8Hu/polylog/internal/config"
	"github.com/suPer8Hu/polylog/internal/db"
	"github.com/suPer8Hu/polylog/internal/store/rabbitmq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, closeLog := config.SetupLogger(cfg.LogFile, config.ParseLevel(cfg.LogLevel))
	defer func() { _ = closeLog() }()

	fatal := func(msg string, err error) {
		log.Error(msg, "err", err)
		_ = closeLog()
		os.Exit(1)
	}

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		fatal("db connect", err)
	}
	if err := db.Migrate(gdb); err != nil {
		fatal("db migrate", err)
	}
	repo := archive.NewRepo(gdb)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		fatal("rabbit dial", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		fatal("rabbit channel", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		fatal("queue declare", err)
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency

	if err := ch.Qos(concurrency, 0, false); err != nil {
		fatal("qos", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		fatal("consume", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With("worker", workerID)
			for d := range jobs {
				start := time.Now()
				err := handleDelivery(ctx, repo, d.Body)
				switch {
				case err == nil:
					if err := d.Ack(false); err != nil {
						wlog.Warn("ack failed", "message_id", d.MessageId, "err", err)
					}
				case errors.Is(err, rabbitmq.ErrBadMessage):
					wlog.Warn("bad message", "message_id", d.MessageId, "err", err)
					_ = d.Nack(false, false)
				default:
					n := retryCount(d.Headers)
					wlog.Warn("archive insert failed",
						"message_id", d.MessageId,
						"attempt", n+1,
						"cost", time.Since(start),
						"err", err,
					)
					if n+1 >= maxAttempts {
						_ = d.Nack(false, false)
						continue
					}
					if err := scheduleRetry(ctx, ch, cfg.RabbitQueue, d, n+1); err != nil {
						wlog.Error("retry publish failed", "message_id", d.MessageId, "err", err)
						_ = d.Nack(false, true)
						continue
					}
					_ = d.Ack(false)
				}
			}
		}(i)
	}

	// dispatcher
	defer func() {
		close(jobs)
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				return
			}
			jobs <- d
		}
	}
}
