// Package view draws order progress and notification cards for a terminal.
package view

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/duisenbekovayan/order_live/internal/models"
	"github.com/duisenbekovayan/order_live/internal/notify"
	"github.com/duisenbekovayan/order_live/internal/progress"
)

const barWidth = 30

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	barFillStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	barEmptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	cancelledStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	stepStyles = map[progress.StepState]lipgloss.Style{
		progress.StepCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		progress.StepActive:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		progress.StepPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		progress.StepCancelled: lipgloss.NewStyle().Strikethrough(true).Foreground(lipgloss.Color("196")),
	}

	stepMarks = map[progress.StepState]string{
		progress.StepCompleted: "●",
		progress.StepActive:    "◉",
		progress.StepPending:   "○",
		progress.StepCancelled: "✕",
	}

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Width(44)

	cardTitleStyle = lipgloss.NewStyle().Bold(true)
	cardDimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var cardBorderColors = map[models.OrderStatus]lipgloss.Color{
	models.StatusPending:   lipgloss.Color("39"),
	models.StatusPreparing: lipgloss.Color("214"),
	models.StatusReady:     lipgloss.Color("42"),
	models.StatusCompleted: lipgloss.Color("212"),
	models.StatusCancelled: lipgloss.Color("196"),
}

// Progress renders the bar and step indicators of one order.
func Progress(orderID string, v progress.View) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Order " + orderID))
	b.WriteString("\n")

	if v.Cancelled {
		b.WriteString(Bar(v.Width, barWidth, true))
		b.WriteString(" ")
		b.WriteString(cancelledStyle.Render("CANCELLED"))
	} else {
		b.WriteString(Bar(v.Width, barWidth, false))
		b.WriteString(fmt.Sprintf(" %5.1f%%", v.Width))
	}
	b.WriteString("\n")

	parts := make([]string, 0, len(v.Steps))
	for _, s := range v.Steps {
		parts = append(parts, stepStyles[s.State].Render(stepMarks[s.State]+" "+s.Label))
	}
	b.WriteString(strings.Join(parts, "  "))
	return b.String()
}

// Bar renders a horizontal bar width cells wide filled to percent.
func Bar(percent float64, width int, dimmed bool) string {
	filled := int(math.Round(percent / 100 * float64(width)))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	fill := barFillStyle
	if dimmed {
		fill = barEmptyStyle
	}
	return fill.Render(strings.Repeat("█", filled)) + barEmptyStyle.Render(strings.Repeat("░", width-filled))
}

// Cards renders the notification queue, oldest first.
func Cards(cards []notify.Card) string {
	if len(cards) == 0 {
		return ""
	}
	out := make([]string, 0, len(cards))
	for _, c := range cards {
		out = append(out, Card(c))
	}
	return lipgloss.JoinVertical(lipgloss.Left, out...)
}

func Card(c notify.Card) string {
	style := cardStyle
	if color, ok := cardBorderColors[c.Status]; ok {
		style = style.BorderForeground(color)
	}
	title := cardTitleStyle.Render(c.Icon + " " + c.Title)
	body := c.Message
	footer := cardDimStyle.Render(fmt.Sprintf("closes in %.0fs", c.Remaining.Seconds()))
	if c.Leaving {
		style = style.Faint(true)
		footer = cardDimStyle.Render("closing")
	}
	lines := []string{title}
	if body != "" {
		lines = append(lines, body)
	}
	lines = append(lines, footer)
	return style.Render(strings.Join(lines, "\n"))
}
