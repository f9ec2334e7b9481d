package notify

import (
	"time"

	"github.com/duisenbekovayan/order_live/internal/models"
)

// Card is the render-ready form of a queued notification.
type Card struct {
	ID        string
	Status    models.OrderStatus
	Icon      string
	Title     string
	Message   string
	Leaving   bool
	Remaining time.Duration
	// Elapsed is the share of the display time already used, in [0, 1].
	Elapsed float64
}

var icons = map[models.OrderStatus]string{
	models.StatusPending:   "✓",
	models.StatusPreparing: "♨",
	models.StatusReady:     "🔔",
	models.StatusCompleted: "★",
	models.StatusCancelled: "✕",
}

// Render maps queue state to cards, oldest first.
func Render(items []Notification, now time.Time) []Card {
	cards := make([]Card, 0, len(items))
	for _, n := range items {
		total := n.DismissAt.Sub(n.CreatedAt)
		remaining := n.DismissAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		elapsed := 1.0
		if total > 0 {
			elapsed = 1 - float64(remaining)/float64(total)
		}
		icon, ok := icons[n.Status]
		if !ok {
			icon = "•"
		}
		cards = append(cards, Card{
			ID:        n.ID,
			Status:    n.Status,
			Icon:      icon,
			Title:     n.Title,
			Message:   n.Message,
			Leaving:   n.Leaving,
			Remaining: remaining,
			Elapsed:   elapsed,
		})
	}
	return cards
}
