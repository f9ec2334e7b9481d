package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duisenbekovayan/order_live/internal/config"
	"github.com/duisenbekovayan/order_live/internal/models"
	"github.com/duisenbekovayan/order_live/internal/notify"
	"github.com/duisenbekovayan/order_live/internal/progress"
	"github.com/duisenbekovayan/order_live/internal/realtime"
)

func init() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func TestScreen_RedrawsEveryPart(t *testing.T) {
	var buf bytes.Buffer
	s := newScreen(&buf, "A1")

	s.SetView(progress.View{Status: models.StatusReady, Width: 66.7, Steps: progress.Steps(models.StatusReady, false)})
	assert.Contains(t, buf.String(), "66.7%")

	buf.Reset()
	s.SetCards([]notify.Card{{ID: "n1", Status: models.StatusReady, Title: "Order Ready!", Message: "Pick it up"}})
	out := buf.String()
	assert.Contains(t, out, "66.7%")
	assert.Contains(t, out, "Order Ready!")

	buf.Reset()
	s.SetState(realtime.StateErrored, errors.New("socket closed"))
	assert.Contains(t, buf.String(), "live updates: errored (socket closed)")
}

func TestOpenFeed(t *testing.T) {
	l := zerolog.Nop()

	feed, closeFeed, err := openFeed(context.Background(), config.Config{Feed: "memory"}, l)
	require.NoError(t, err)
	assert.IsType(t, &realtime.MemoryFeed{}, feed)
	closeFeed()

	feed, closeFeed, err = openFeed(context.Background(), config.Config{Feed: "realtime", RealtimeURL: "ws://127.0.0.1:1/socket"}, l)
	require.NoError(t, err)
	assert.IsType(t, &realtime.Socket{}, feed)
	closeFeed()

	_, _, err = openFeed(context.Background(), config.Config{Feed: "carrier-pigeon"}, l)
	assert.Error(t, err)
}
