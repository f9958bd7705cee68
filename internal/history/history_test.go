package history

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingSink) Send(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("missing deadline")
	}
	r.events = append(r.events, e)
	return r.err
}

func TestEmitDeliversToEverySink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	e := Event{Type: EventStart, OccurredAt: time.Now(), Script: "job/a.py", PID: 1}
	Emit(nil, []Sink{a, b}, e)
	assert.Equal(t, []Event{e}, a.events)
	assert.Equal(t, []Event{e}, b.events)
}

func TestEmitLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	bad := &recordingSink{err: errors.New("boom")}
	good := &recordingSink{}

	Emit(logger, []Sink{bad, good}, Event{Type: EventStop, Script: "x.py"})
	assert.Len(t, good.events, 1)
	assert.Contains(t, buf.String(), "history sink failed")
	assert.Contains(t, buf.String(), "boom")
}

func TestNullString(t *testing.T) {
	assert.Nil(t, NullString(""))
	assert.Equal(t, "x", NullString("x"))
}
