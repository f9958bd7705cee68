package discovery

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/scriptdeck/internal/broadcast"
)

func startWatcher(t *testing.T, root string) *broadcast.Subscription {
	t.Helper()
	hub := broadcast.NewHub(16)
	sub := hub.Subscribe("")
	t.Cleanup(sub.Close)

	w := NewWatcher(root, hub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.SetDebounce(50 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	// give the watcher time to register the tree
	time.Sleep(100 * time.Millisecond)
	return sub
}

func expectChange(t *testing.T, sub *broadcast.Subscription) {
	t.Helper()
	select {
	case msg := <-sub.C():
		assert.Equal(t, broadcast.EventScriptsChanged, msg.Event)
	case <-time.After(3 * time.Second):
		t.Fatal("no scripts_changed notification")
	}
}

func TestWatcherNotifiesOnNewScript(t *testing.T) {
	root := t.TempDir()
	sub := startWatcher(t, root)

	touch(t, filepath.Join(root, "new.py"))
	expectChange(t, sub)
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	sub := startWatcher(t, root)

	require.NoError(t, os.Mkdir(filepath.Join(root, "job"), 0o750))
	expectChange(t, sub)

	touch(t, filepath.Join(root, "job", "a.py"))
	expectChange(t, sub)
}

func TestWatcherDebouncesBursts(t *testing.T) {
	root := t.TempDir()
	sub := startWatcher(t, root)

	for i := 0; i < 5; i++ {
		touch(t, filepath.Join(root, "burst.py"))
	}
	expectChange(t, sub)
	select {
	case <-sub.C():
		t.Fatal("burst produced more than one notification")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	root := t.TempDir()
	sub := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("x"), 0o600))
	select {
	case <-sub.C():
		t.Fatal("unrelated file triggered a notification")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherMissingRoot(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "absent"), broadcast.NewHub(1), nil)
	assert.Error(t, w.Run(context.Background()))
}
