package logsvc

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/classledger/core"
)

func TestRollbarLogger_prepare(t *testing.T) {
	l := NewDiscardLogger()
	err := errors.New("lol")
	extras := map[string]interface{}{"class_id": 1}

	args := l.prepare("msg", []interface{}{err, core.Actor{ID: 1, Name: "Awe"}, extras, core.Actor{ID: 2}})
	assert.Equal(t, []interface{}{"msg", err, extras}, args)
}

func TestRollbarLogger_print(t *testing.T) {
	var buf bytes.Buffer
	l := NewDiscardLogger()
	l.std = log.New(&buf, "TEST : ", 0)

	l.Warn("undid 2 ledger operations", errors.New("unit of work failed"), core.Actor{ID: 1})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "TEST : undid 2 ledger operations", lines[0])
	assert.Contains(t, buf.String(), "unit of work failed")
}
