package logsvc

import (
	"bytes"
	"log"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/calsync/core"
)

func TestRollbarLogger_prepare(t *testing.T) {
	l := NewRollbarLogger(log.New(&bytes.Buffer{}, "", 0), &core.Config{Env: "TEST"})
	l.Enable(false)

	err := errors.New("boom")
	extras := map[string]interface{}{"provider": "calendly"}
	got := l.prepare("calendar: failed", []interface{}{err, core.Person{ID: "1"}, extras, core.Person{ID: "2"}})
	assert.Equal(t, []interface{}{"calendar: failed", err, extras}, got)
}

func TestRollbarLogger_print(t *testing.T) {
	var buf bytes.Buffer
	l := NewRollbarLogger(log.New(&buf, "SYNC : ", 0), &core.Config{Env: "TEST"})
	l.Enable(false)

	l.Warn("calendar: skipped", map[string]interface{}{"id": "I1"})
	assert.Equal(t, "SYNC : calendar: skipped\nSYNC : map[id:I1]\n", buf.String())
}
