package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mayur-mahajan-04/Edutrack-sub000/internal/config"
	"github.com/mayur-mahajan-04/Edutrack-sub000/internal/face"
	"github.com/mayur-mahajan-04/Edutrack-sub000/internal/queue"
	"github.com/mayur-mahajan-04/Edutrack-sub000/internal/store"
)

// statsTTL keeps per-subject daily counters around long enough for the
// morning-after admin view, then lets redis drop them.
const statsTTL = 48 * time.Hour

// Worker consumes marked-attendance events and maintains the per-subject
// daily counters backing the admin stats endpoint.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "edutrack:marked")
	}

	// Surface a misconfigured face service early rather than at first mark.
	faceClient := face.NewClient(cfg.FaceServiceURL, cfg.FaceSkip)
	if !cfg.FaceSkip {
		if err := faceClient.Health(ctx); err != nil {
			log.Printf("WARNING: face service not available: %v", err)
		} else {
			log.Println("face service connected")
		}
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != queue.TypeMarked {
			continue
		}

		var evt queue.MarkedEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad marked event payload: %v", err)
			continue
		}

		key := store.SubjectDayKey(evt.Subject, evt.Day)
		pipe := redisClient.Client.TxPipeline()
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, statsTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("stats update %s for entry %s failed: %v", key, evt.EntryID, err)
			continue
		}
		log.Printf("entry %s counted for %s", evt.EntryID, key)
	}

	log.Println("worker stopped")
}
