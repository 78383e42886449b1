package main

import (
	"context"
	"testing"
	"time"

	"flash-buyer/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugPort(t *testing.T) {
	tests := []struct {
		addr    string
		want    int
		wantErr bool
	}{
		{addr: "127.0.0.1:9222", want: 9222},
		{addr: "localhost:9333", want: 9333},
		{addr: "http://127.0.0.1:9222/", want: 9222},
		{addr: "ws://10.0.0.2:9229", want: 9229},
		{addr: "127.0.0.1", wantErr: true},
		{addr: "127.0.0.1:0", wantErr: true},
		{addr: "127.0.0.1:http", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got, err := debugPort(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWaitCountdownCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	assert.False(t, waitCountdown(ctx, 5))
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, waitCountdown(context.Background(), 0))
}

// withoutCredentials runs the command tree in an empty directory with no
// credentials in the environment.
func withoutCredentials(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, k := range []string{config.EnvEmail, config.EnvPassword, config.EnvDebuggerAddress, config.EnvHeadless, config.EnvLog} {
		t.Setenv(k, "")
	}
}

func TestBuyWithoutCredentialsFailsBeforeLaunch(t *testing.T) {
	withoutCredentials(t)

	root := newRootCmd()
	root.SetArgs([]string{"buy", "--reuse=false", "--driver", "chromedp", "usb c cable"})
	err := root.Execute()
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestPrepareWithoutCredentialsFailsBeforeLaunch(t *testing.T) {
	withoutCredentials(t)

	root := newRootCmd()
	root.SetArgs([]string{"prepare", "--reuse=true"})
	err := root.Execute()
	assert.ErrorIs(t, err, config.ErrInvalid)
}
