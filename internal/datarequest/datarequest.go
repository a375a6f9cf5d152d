// Package datarequest downloads, decompresses and shapes bulk data-request
// payloads before they are handed to DataRequestReady.
package datarequest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	logx "github.com/destryteeter/botlab/pkg/logx"
)

// Item types.
const (
	TypeLocations = "locations"
	TypeDevices   = "devices"
)

// Compression schemes. An empty value means lz4.
const (
	CompressionLZ4  = "lz4"
	CompressionZstd = "zstd"
	CompressionNone = "none"
)

var (
	ErrNoFetcher   = errors.New("data request fetcher unavailable")
	ErrCompression = errors.New("unsupported compression")
)

// Item is one downloadable part of a data request.
type Item struct {
	Key              string `json:"key"`
	URL              string `json:"url"`
	Type             string `json:"type"`
	CompressedLength int64  `json:"compressedLength"`
	DataLength       int64  `json:"dataLength"`
	Compression      string `json:"compression,omitempty"`
}

// Group is the shaped content of every item sharing a reference.
type Group struct {
	Reference string
	Content   any
}

// Collect fetches every item and groups the shaped content by reference, in
// first-seen order. An item that fails is logged and left out of its group.
func Collect(ctx context.Context, f Fetcher, items []Item, log logx.Logger) ([]Group, error) {
	if f == nil {
		return nil, ErrNoFetcher
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	var (
		order  []string
		groups = map[string]any{}
	)
	for _, it := range items {
		if _, ok := groups[it.Key]; !ok {
			order = append(order, it.Key)
			groups[it.Key] = nil
		}
		ilog := log.With(logx.String("reference", it.Key), logx.String("type", it.Type))
		ilog.Info("downloading data request", logx.Int64("bytes", it.CompressedLength))

		raw, err := f.Fetch(ctx, it.URL)
		if err != nil {
			ilog.Error("data request download failed", logx.Err(err))
			continue
		}
		data, err := Decompress(it, raw)
		if err != nil {
			ilog.Error("data request decompress failed", logx.Err(err))
			continue
		}
		shaped, err := Shape(it.Type, data)
		if err != nil {
			ilog.Error("data request parse failed", logx.Err(err))
			continue
		}
		groups[it.Key] = merge(groups[it.Key], shaped)
	}

	out := make([]Group, 0, len(order))
	for _, ref := range order {
		out = append(out, Group{Reference: ref, Content: groups[ref]})
	}
	return out, nil
}

// merge combines the shaped content of two items under one reference.
// Maps merge one level deep; anything else is replaced.
func merge(prev, next any) any {
	pm, ok1 := prev.(map[string]any)
	nm, ok2 := next.(map[string]any)
	if !ok1 || !ok2 {
		return next
	}
	for k, v := range nm {
		inner, ok := v.(map[string]any)
		old, ok2 := pm[k].(map[string]any)
		if ok && ok2 {
			for ik, iv := range inner {
				old[ik] = iv
			}
			continue
		}
		pm[k] = v
	}
	return pm
}

// References lists the references of groups, sorted.
func References(groups []Group) []string {
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.Reference)
	}
	sort.Strings(out)
	return out
}

func errCompression(c string) error { return fmt.Errorf("%w: %q", ErrCompression, c) }
