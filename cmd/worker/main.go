package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"secureattend/internal/config"
	"secureattend/internal/faceclient"
	"secureattend/internal/metrics"
	"secureattend/internal/notify"
	"secureattend/internal/queue"
	"secureattend/internal/roster"
	"secureattend/internal/store"
)

// Worker consumes queued check-ins, identifies the face against the
// recognition gallery, and commits the matched attendance event.
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

	var checkins queue.Queue
	var notifier notify.Notifier
	if cfg.QueueBackend == "memory" {
		checkins = queue.NewInMemory(64)
		notifier = notify.NewInMemory()
	} else {
		checkins = queue.NewRedisQueue(redisClient.Client, "secureattend:checkins")
		notifier = notify.NewRedis(redisClient.Client, "secureattend:events")
	}

	repo := roster.NewRepository(db.Client)
	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)

	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			log.Printf("WARNING: face service not available: %v", err)
			log.Println("worker will retry identification when check-ins arrive")
		} else {
			log.Println("face service connected")
		}
	}

	jobs, err := checkins.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for check-ins...")
	for job := range jobs {
		if err := process(ctx, repo, face, notifier, job); err != nil {
			log.Printf("checkin %s failed: %v", job.ID, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	log.Println("worker stopped")
}

func process(ctx context.Context, repo *roster.Repository, face *faceclient.Client, notifier notify.Notifier, job queue.CheckinJob) error {
	log.Printf("processing checkin %s", job.ID)

	result, err := face.Search(ctx, job.PhotoURL, 0)
	if err != nil {
		metrics.CheckinsProcessed.WithLabelValues("error").Inc()
		return err
	}
	if len(result.Matches) == 0 {
		metrics.CheckinsProcessed.WithLabelValues("no_match").Inc()
		log.Printf("checkin %s: no face match", job.ID)
		return nil
	}

	match := result.Matches[0]
	if _, err := repo.GetUser(ctx, match.UserID); err != nil {
		if errors.Is(err, roster.ErrNotFound) {
			// Gallery and roster drifted apart; the match points at a
			// deleted person.
			metrics.CheckinsProcessed.WithLabelValues("orphan_match").Inc()
			log.Printf("checkin %s: matched unknown user %d", job.ID, match.UserID)
			return nil
		}
		metrics.CheckinsProcessed.WithLabelValues("error").Inc()
		return err
	}

	evt := roster.Event{
		UserID:         match.UserID,
		Timestamp:      job.TakenAt,
		ScreenshotPath: &job.PhotoURL,
	}
	if _, err := repo.InsertEvent(ctx, evt); err != nil {
		metrics.CheckinsProcessed.WithLabelValues("error").Inc()
		return err
	}
	metrics.EventsInserted.Inc()
	metrics.CheckinsProcessed.WithLabelValues("matched").Inc()

	if err := notifier.EventInserted(ctx); err != nil {
		log.Printf("checkin %s: notify failed: %v", job.ID, err)
	}

	log.Printf("checkin %s: user %d marked present (similarity %.2f)", job.ID, match.UserID, match.Similarity)
	return nil
}
