package view

import (
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"

	"github.com/duisenbekovayan/order_live/internal/models"
	"github.com/duisenbekovayan/order_live/internal/notify"
	"github.com/duisenbekovayan/order_live/internal/progress"
)

func init() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func TestBar(t *testing.T) {
	assert.Equal(t, "░░░░░░░░░░", Bar(0, 10, false))
	assert.Equal(t, "███░░░░░░░", Bar(33.3, 10, false))
	assert.Equal(t, "███████░░░", Bar(66.7, 10, false))
	assert.Equal(t, "██████████", Bar(100, 10, false))
	assert.Equal(t, "██████████", Bar(140, 10, false))
}

func TestProgress(t *testing.T) {
	v := progress.View{
		Status: models.StatusPreparing,
		Width:  33.3,
		Steps:  progress.Steps(models.StatusPreparing, false),
	}
	out := Progress("A1", v)
	assert.Contains(t, out, "Order A1")
	assert.Contains(t, out, "33.3%")
	assert.Contains(t, out, "● Confirmed")
	assert.Contains(t, out, "◉ Preparing")
	assert.Contains(t, out, "○ Ready")
}

func TestProgress_Cancelled(t *testing.T) {
	v := progress.View{
		Status:    models.StatusCancelled,
		Width:     33.3,
		Cancelled: true,
		Steps:     progress.Steps(models.StatusPreparing, true),
	}
	out := Progress("A1", v)
	assert.Contains(t, out, "CANCELLED")
	assert.NotContains(t, out, "%")
	assert.Contains(t, out, "✕ Preparing")
}

func TestCards(t *testing.T) {
	assert.Empty(t, Cards(nil))

	out := Cards([]notify.Card{
		{ID: "a", Status: models.StatusReady, Icon: "🔔", Title: "Order Ready!", Message: "Pick it up", Remaining: 4 * time.Second},
		{ID: "b", Status: models.StatusPending, Icon: "✓", Title: "Order Confirmed!", Leaving: true},
	})
	assert.Contains(t, out, "Order Ready!")
	assert.Contains(t, out, "Pick it up")
	assert.Contains(t, out, "closes in 4s")
	assert.Contains(t, out, "closing")
}
