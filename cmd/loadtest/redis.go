package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"student-polling-backend/cache"
	"student-polling-backend/config"

	"github.com/spf13/cobra"
)

func redisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redis",
		Short: "Smoke-test the bloom filter and token bucket against a Redis instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			client, err := cache.NewRedisClient(cmd.Context(), config.RedisConfig{Addr: addr})
			if err != nil {
				return err
			}
			defer client.Close()
			return redisSmoke(cmd.Context(), client, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("addr", "localhost:6379", "Redis address")
	return cmd
}

// redisSmoke writes to throwaway keys only.
func redisSmoke(ctx context.Context, client cache.RedisClient, out io.Writer) error {
	key := fmt.Sprintf("bloom:loadtest:%d", time.Now().UnixNano())
	defer client.Del(ctx, key, key+":ready")

	filter := cache.NewBloomFilter(client, key, 5, 1<<20)
	present := []string{"poll-a", "poll-b", "poll-c"}
	for _, id := range present {
		if err := filter.Add(ctx, id); err != nil {
			return fmt.Errorf("bloom add: %w", err)
		}
	}
	for _, id := range present {
		ok, err := filter.MightContain(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("bloom filter lost %s", id)
		}
	}
	falsePositives := 0
	for i := 0; i < 1000; i++ {
		if ok, _ := filter.MightContain(ctx, fmt.Sprintf("absent-%d", i)); ok {
			falsePositives++
		}
	}
	fmt.Fprintf(out, "bloom filter: %d/%d present found, %d/1000 false positives\n", len(present), len(present), falsePositives)

	limiter := cache.NewTokenBucketRateLimiter(client, fmt.Sprintf("loadtest:%d", time.Now().UnixNano()), 3, 5)
	allowed := 0
	for i := 0; i < 10; i++ {
		ok, err := limiter.Allow(ctx, "burst")
		if err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		if ok {
			allowed++
		}
	}
	fmt.Fprintf(out, "token bucket: %d/10 allowed in a burst of 10 (burst size 5)\n", allowed)
	return nil
}
