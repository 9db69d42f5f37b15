package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/auditwatch/internal/model"
)

func TestSessionStatus_Segments(t *testing.T) {
	channels := map[string]model.SubscriptionStatus{
		"messages:u": model.SubscriptionSubscribed,
		"payments:u": model.SubscriptionSubscribed,
	}

	tests := []struct {
		name   string
		rec    model.HealthRecord
		unread int
		want   []string
		absent []string
	}{
		{
			name: "connected",
			rec: model.HealthRecord{
				Connection: model.ConnectionConnected,
				Auth:       model.AuthAuthenticated,
				LastRTT:    42 * time.Millisecond,
				Channels:   channels,
			},
			unread: 3,
			want:   []string{"connected 42ms", "3 unread", "channels 2/2"},
			absent: []string{"signed out", "errors"},
		},
		{
			name: "degraded",
			rec: model.HealthRecord{
				Connection: model.ConnectionDisconnected,
				Auth:       model.AuthUnauthenticated,
				ErrorCount: 2,
				Channels: map[string]model.SubscriptionStatus{
					"messages:u": model.SubscriptionSubscribed,
					"payments:u": model.SubscriptionClosed,
				},
			},
			want:   []string{"disconnected", "0 unread", "channels 1/2", "signed out", "2 errors"},
			absent: []string{"ms"},
		},
		{
			name: "checking",
			rec:  model.HealthRecord{Connection: model.ConnectionChecking, Auth: model.AuthChecking},
			want: []string{"checking", "channels 0/0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			joined := strings.Join(NewSessionStatus(tt.rec, tt.unread).Segments(), headerSeparator)
			for _, w := range tt.want {
				assert.Contains(t, joined, w)
			}
			for _, a := range tt.absent {
				assert.NotContains(t, joined, a)
			}
		})
	}
}

func TestLayout_Dimensions(t *testing.T) {
	l := NewLayout(100, 40)
	assert.Equal(t, 100, l.ContentWidth())
	assert.Equal(t, 38, l.ContentHeight())
}

func TestLayout_RenderFrame(t *testing.T) {
	l := NewLayout(120, 10)
	status := NewSessionStatus(model.HealthRecord{Connection: model.ConnectionConnected}, 1)

	header := l.RenderHeader("auditwatch", status)
	assert.Contains(t, header, "auditwatch")
	assert.Contains(t, header, "1 unread")
	assert.Equal(t, 120, lipgloss.Width(header))

	bar := l.RenderStatusBar("q quit", "reconnected")
	assert.Contains(t, bar, "reconnected")
	assert.Less(t, strings.Index(bar, "reconnected"), strings.Index(bar, "q quit"))
	assert.NotContains(t, l.RenderStatusBar("q quit", ""), headerSeparator)

	frame := l.RenderWithFrame(header, "body", bar)
	lines := strings.Split(frame, "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "body")
}
