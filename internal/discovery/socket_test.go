package discovery

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/stedge/internal/logger"
)

func TestSharedListenersShareAPort(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("address reuse semantics checked on linux only")
	}
	listen := SharedBroadcastListener(logger.Nop())
	port := freePort(t)

	a, err := listen(context.Background(), "127.0.0.1", port)
	require.NoError(t, err)
	defer a.Close()

	b, err := listen(context.Background(), "127.0.0.1", port)
	require.NoError(t, err)
	defer b.Close()
}

func TestExclusiveListenerRejectsBusyPort(t *testing.T) {
	port := freePort(t)

	a, err := BroadcastListener(logger.Nop())(context.Background(), "127.0.0.1", port)
	require.NoError(t, err)
	defer a.Close()

	_, err = SharedBroadcastListener(logger.Nop())(context.Background(), "127.0.0.1", port)
	assert.Error(t, err)
}
