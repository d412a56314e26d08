package sloghooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/slicecache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	HitEvery  uint64
	MissEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	hitCtr  atomic.Uint64
	missCtr atomic.Uint64
}

var _ slicecache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SliceHit(storageKey string, records int) {
	if h.l == nil || !sample(h.opts.HitEvery, &h.hitCtr) {
		return
	}
	h.l.Debug("slicecache.slice_hit",
		"key", h.redact(storageKey),
		"records", records)
}

func (h *Hooks) SliceMiss(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.MissEvery, &h.missCtr) {
		return
	}
	h.l.Debug("slicecache.slice_miss",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) StoreFailed(selector, op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("slicecache.store_failed",
		"selector", selector,
		"op", op,
		"err", err)
}

func (h *Hooks) RefreshArmed(signature string, cycles int64, every time.Duration) {
	if h.l == nil {
		return
	}
	h.l.Info("slicecache.refresh_armed",
		"signature", signature,
		"cycles", cycles,
		"every", every)
}

func (h *Hooks) RefreshCycle(signature string, cycle int64, outcome string) {
	if h.l == nil {
		return
	}
	lvl := slog.LevelDebug
	if outcome == "failed" {
		lvl = slog.LevelWarn
	}
	h.l.Log(context.Background(), lvl, "slicecache.refresh_cycle",
		"signature", signature,
		"cycle", cycle,
		"outcome", outcome)
}
