package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"channels/backend/internal/config"
	"channels/backend/internal/queue"
	"channels/backend/internal/storage"

	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const usage = `Usage: admin <command> [args]

Commands:
  sweep [inactive_hours]               deactivate users idle longer than the threshold
  reset-unread <channel_id> <user_id>  zero a participant's unread counter
  delete-group <group_id> <owner_id>   soft-delete a group as its owner
  failed-jobs [limit]                  list persistence jobs that exhausted their retries`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	db, err := storage.Open(cfg.Postgres.DatabaseURL, false)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	storageSvc := storage.NewStorageService(db, nil)

	switch os.Args[1] {
	case "sweep":
		threshold := cfg.Sweep.InactiveAfter
		if len(os.Args) > 2 {
			hours, err := strconv.Atoi(os.Args[2])
			if err != nil || hours <= 0 {
				fmt.Println("Invalid threshold. Please provide a positive number of hours.")
				os.Exit(1)
			}
			threshold = time.Duration(hours) * time.Hour
		}
		ids, err := storageSvc.DeactivateInactiveUsers(ctx, time.Now().Add(-threshold))
		if err != nil {
			log.Fatalf("Error sweeping users: %v", err)
		}
		fmt.Printf("Deactivated %s users idle for more than %s.\n", humanize.Comma(int64(len(ids))), threshold)
	case "reset-unread":
		if len(os.Args) != 4 {
			fmt.Println("Usage: admin reset-unread <channel_id> <user_id>")
			os.Exit(1)
		}
		if err := storageSvc.ResetUnread(ctx, os.Args[2], os.Args[3]); err != nil {
			log.Fatalf("Error resetting unread counter: %v", err)
		}
		fmt.Printf("Unread counter of %s in %s has been reset.\n", os.Args[3], os.Args[2])
	case "delete-group":
		if len(os.Args) != 4 {
			fmt.Println("Usage: admin delete-group <group_id> <owner_id>")
			os.Exit(1)
		}
		if err := storageSvc.SoftDeleteGroup(ctx, os.Args[2], os.Args[3]); err != nil {
			log.Fatalf("Error deleting group: %v", err)
		}
		fmt.Printf("Group %s has been deleted.\n", os.Args[2])
	case "failed-jobs":
		limit := int64(20)
		if len(os.Args) > 2 {
			n, err := strconv.ParseInt(os.Args[2], 10, 64)
			if err != nil || n <= 0 {
				fmt.Println("Invalid limit. Please provide a positive integer.")
				os.Exit(1)
			}
			limit = n
		}
		if err := listFailed(ctx, cfg, limit); err != nil {
			log.Fatalf("Error listing failed jobs: %v", err)
		}
	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}

func listFailed(ctx context.Context, cfg *config.Config, limit int64) error {
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is not set; the in-memory queue keeps no failed jobs")
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	q := queue.NewRedisQueue(cfg.Queue, rdb, zap.NewNop())
	defer q.Shutdown(ctx)
	jobs, err := q.Failed(ctx, limit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No failed jobs.")
		return nil
	}
	for _, j := range jobs {
		fmt.Printf("%s  message=%s channel=%s attempts=%d created %s: %s\n",
			j.ID, j.Data.ID, j.Data.ChannelID, j.AttemptsMade, humanize.Time(j.CreatedAt), j.LastError)
	}
	return nil
}
