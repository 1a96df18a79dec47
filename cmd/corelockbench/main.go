// corelockbench is a small flag-driven demo that exercises TtlCache and
// AsyncLock under configurable concurrency.
//
// A small flag-parsed demo binary wrapping the package's own components
// rather than reimplementing them. Uses the standard library's flag
// package rather than the alternative CLI flags library this module's other
// dependencies would suggest, since no available reference showed that
// library's actual call-site API.
//
// Copyright (c) 2026 Synclib Authors
// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	corelock "github.com/synclib/corelock"
)

func main() {
	workers := flag.Int("workers", 8, "number of goroutines contending for the lock and cache")
	iterations := flag.Int("iterations", 2000, "iterations per worker")
	keys := flag.Int("keys", 50, "distinct cache keys")
	minLife := flag.Duration("min-life", 50*time.Millisecond, "TtlCache MinLife")
	maxSize := flag.Int("max-size", 0, "TrimTo bound applied periodically; 0 disables trimming")
	buildLatency := flag.Duration("build-latency", time.Millisecond, "simulated build latency per cache miss")
	reuseReceipts := flag.Bool("reuse-receipts", true, "AsyncLock ReuseReceipts")
	flag.Parse()

	cfg := corelock.DefaultCacheConfig()
	cfg.MinLife = *minLife
	cache, err := corelock.NewTtlCache(func(key int) (int, error) {
		time.Sleep(*buildLatency)
		return key * key, nil
	}, cfg)
	if err != nil {
		log.Fatalf("NewTtlCache: %v", err)
	}

	autoEvict, err := corelock.NewAutoEviction(cache, corelock.AutoEvictionConfig{Interval: *minLife}, nil)
	if err != nil {
		log.Fatalf("NewAutoEviction: %v", err)
	}
	defer autoEvict.Stop()

	stopTrim := make(chan struct{})
	if *maxSize > 0 {
		go func() {
			ticker := time.NewTicker(*minLife)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					cache.TrimTo(*maxSize)
				case <-stopTrim:
					return
				}
			}
		}()
		defer close(stopTrim)
	}

	lock := corelock.NewAsyncLock(corelock.AsyncLockConfig{ReuseReceipts: *reuseReceipts})
	var critical int64

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(*workers)
	for g := 0; g < *workers; g++ {
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			ctx := context.Background()
			for i := 0; i < *iterations; i++ {
				key := rng.Intn(*keys)
				if _, err := cache.Get(key); err != nil {
					log.Printf("Get(%d): %v", key, err)
				}

				r, err := lock.EnterAsync(ctx)
				if err != nil {
					log.Printf("EnterAsync: %v", err)
					continue
				}
				if !r.Granted() {
					if granted, err := r.Wait(ctx); err != nil || !granted {
						log.Printf("Wait: granted=%v err=%v", granted, err)
						continue
					}
				}
				atomic.AddInt64(&critical, 1)
				lock.Exit(r)
			}
		}(int64(g) + 1)
	}
	wg.Wait()
	elapsed := time.Since(start)

	stats := cache.Stats()
	fmt.Printf("workers=%d iterations=%d keys=%d\n", *workers, *iterations, *keys)
	fmt.Printf("hits=%d misses=%d builds=%d build-failures=%d evictions=%d hit-ratio=%.1f%%\n",
		stats.Hits, stats.Misses, stats.Builds, stats.BuildFailures, stats.Evictions, stats.HitRatio())
	fmt.Printf("critical-sections=%d cache-entries=%d elapsed=%s\n",
		atomic.LoadInt64(&critical), cache.Count(), elapsed)
}
