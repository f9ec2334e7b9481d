package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/muesli/termenv"

	"github.com/duisenbekovayan/order_live/internal/notify"
	"github.com/duisenbekovayan/order_live/internal/progress"
	"github.com/duisenbekovayan/order_live/internal/realtime"
	"github.com/duisenbekovayan/order_live/internal/view"
)

// screen redraws the whole tracking view whenever one of its parts changes.
type screen struct {
	out     *termenv.Output
	orderID string

	mu    sync.Mutex
	view  progress.View
	cards []notify.Card
	state realtime.State
	err   error
}

func newScreen(w io.Writer, orderID string) *screen {
	return &screen{out: termenv.NewOutput(w), orderID: orderID}
}

func (s *screen) SetView(v progress.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = v
	s.drawLocked()
}

func (s *screen) SetCards(cards []notify.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = cards
	s.drawLocked()
}

func (s *screen) SetState(st realtime.State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state, s.err = st, err
	s.drawLocked()
}

func (s *screen) drawLocked() {
	s.out.ClearScreen()
	fmt.Fprintln(s.out, view.Progress(s.orderID, s.view))
	if c := view.Cards(s.cards); c != "" {
		fmt.Fprintln(s.out, c)
	}
	switch {
	case s.err != nil:
		fmt.Fprintf(s.out, "live updates: %s (%v)\n", s.state, s.err)
	case s.state != "":
		fmt.Fprintf(s.out, "live updates: %s\n", s.state)
	}
}
