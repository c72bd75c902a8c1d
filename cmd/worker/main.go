package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/roster"
	"rollcall/internal/store"
)

// Worker consumes sweep jobs and marks enrolled-but-unrecorded students
// absent for the requested (course, date).
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

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var jobs queue.Queue
	if cfg.QueueBackend == "memory" {
		jobs = queue.NewInMemory(64)
	} else {
		jobs = queue.NewRedisQueue(redisClient.Client, "rollcall:sweeps")
	}

	rosterRepo := roster.NewRepository(db.Client)
	attRepo := attendance.NewRepository(db.Client)
	ledger := attendance.NewService(attRepo, rosterRepo, cfg.LateThreshold)

	messages, err := jobs.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for sweep jobs...")
	for msg := range messages {
		if msg.Type != queue.TypeSweep {
			continue
		}

		job, err := queue.DecodeSweep(msg)
		if err != nil {
			log.Printf("bad sweep job: %v", err)
			continue
		}
		date, err := time.Parse("2006-01-02", job.Date)
		if err != nil {
			log.Printf("bad sweep date %q: %v", job.Date, err)
			continue
		}

		marked, err := ledger.SweepAbsences(ctx, job.CourseID, date)
		if err != nil {
			log.Printf("sweep course %d on %s failed after %d marks: %v", job.CourseID, job.Date, marked, err)
			continue
		}
		metrics.SweepsMarked.Add(float64(marked))
		log.Printf("sweep course %d on %s: %d students marked absent", job.CourseID, job.Date, marked)
	}

	log.Println("worker stopped")
}
