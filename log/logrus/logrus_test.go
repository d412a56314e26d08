package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/unkn0wn-root/slicecache"
)

func TestFieldsAndErrors(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	boom := errors.New("reset")
	l.Error("refresh cycle ended", slicecache.Fields{"cycle": int64(3), "err": boom})

	e := hook.LastEntry()
	if e == nil || e.Level != logrus.ErrorLevel || e.Message != "refresh cycle ended" {
		t.Fatalf("entry=%+v", e)
	}
	if e.Data["component"] != "slicecache" || e.Data["cycle"] != int64(3) || e.Data[logrus.ErrorKey] != boom {
		t.Fatalf("data=%v", e.Data)
	}
}
