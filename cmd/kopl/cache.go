// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jllopis/kopl/pkg/kb"
)

type cacheStatus struct {
	Source      string    `json:"source"`
	Cache       string    `json:"cache"`
	Fingerprint string    `json:"fingerprint"`
	Cached      string    `json:"cached_fingerprint,omitempty"`
	Fresh       bool      `json:"fresh"`
	Stats       *kb.Stats `json:"stats,omitempty"`
}

// runCache builds or inspects the SQLite snapshot of the knowledge base.
func runCache(ctx context.Context, a *app, args []string) {
	if len(args) == 0 {
		fatal(NewInvalidArgumentError("cache", "usage: kopl cache <build|inspect>"))
	}
	sub := args[0]
	cmd := flag.NewFlagSet("cache "+sub, flag.ContinueOnError)
	kbPath := cmd.String("kb", "", "Knowledge base file (default kb.path)")
	cachePath := cmd.String("cache", a.cfg.KB.CachePath, "Snapshot database (default kb.cache_path)")
	if err := cmd.Parse(args[1:]); err != nil {
		fatal(err)
	}
	if *cachePath == "" {
		fatal(NewInvalidArgumentError("cache", "no snapshot database: set kb.cache_path or pass --cache"))
	}
	source := a.kbPath(*kbPath)

	cache, err := kb.OpenCache(*cachePath)
	if err != nil {
		fatal(err)
	}
	defer cache.Close()

	var status cacheStatus
	switch sub {
	case "build":
		status, err = buildCache(ctx, cache, source)
	case "inspect":
		status, err = inspectCache(ctx, cache, source)
	default:
		fatal(NewInvalidArgumentError("cache", fmt.Sprintf("unknown subcommand %q", sub)))
	}
	if err != nil {
		fatal(NewKBError(err, source))
	}
	status.Cache = *cachePath

	if a.json {
		writeJSON(os.Stdout, status)
		return
	}
	tw := newTabWriterTo(os.Stdout)
	writeRow(tw, "source", status.Source)
	writeRow(tw, "cache", status.Cache)
	writeRow(tw, "fingerprint", status.Fingerprint)
	writeRow(tw, "cached", status.Cached)
	writeRow(tw, "fresh", fmt.Sprintf("%t", status.Fresh))
	if status.Stats != nil {
		writeRow(tw, "entities", fmt.Sprintf("%d", status.Stats.Entities))
		writeRow(tw, "concepts", fmt.Sprintf("%d", status.Stats.Concepts))
		writeRow(tw, "attributes", fmt.Sprintf("%d", status.Stats.Attributes))
		writeRow(tw, "edges", fmt.Sprintf("%d", status.Stats.Edges))
	}
	_ = tw.Flush()
}

// buildCache loads the source through the cache, which rebuilds a stale
// snapshot.
func buildCache(ctx context.Context, cache *kb.Cache, source string) (cacheStatus, error) {
	k, err := cache.Load(ctx, source)
	if err != nil {
		return cacheStatus{}, err
	}
	return inspectWith(ctx, cache, source, k)
}

func inspectCache(ctx context.Context, cache *kb.Cache, source string) (cacheStatus, error) {
	return inspectWith(ctx, cache, source, nil)
}

func inspectWith(ctx context.Context, cache *kb.Cache, source string, k *kb.KB) (cacheStatus, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return cacheStatus{}, err
	}
	status := cacheStatus{Source: source, Fingerprint: kb.Fingerprint(data)}
	cached, ok, err := cache.Fingerprint(ctx)
	if err != nil {
		return cacheStatus{}, err
	}
	if ok {
		status.Cached = cached
		status.Fresh = cached == status.Fingerprint
	}
	if k == nil && status.Fresh {
		if snap, found, err := cache.Snapshot(ctx, cached); err == nil && found {
			k = snap
		}
	}
	if k != nil {
		stats := k.Stats()
		status.Stats = &stats
	}
	return status, nil
}
