package zap

import (
	"errors"
	"testing"

	"github.com/unkn0wn-root/slicecache"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFieldsAndErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))
	l.Warn("store write failed", slicecache.Fields{"selector": "default/0", "err": errors.New("reset")})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["component"] != "slicecache" || ctx["selector"] != "default/0" || ctx["err"] != "reset" {
		t.Fatalf("context=%v", ctx)
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("level=%v", entries[0].Level)
	}
}
