package progress

import "github.com/duisenbekovayan/order_live/internal/models"

// StepState is how a single step indicator is drawn.
type StepState string

const (
	StepCompleted StepState = "completed"
	StepActive    StepState = "active"
	StepPending   StepState = "pending"
	StepCancelled StepState = "cancelled"
)

var labels = map[models.OrderStatus]string{
	models.StatusPending:   "Confirmed",
	models.StatusPreparing: "Preparing",
	models.StatusReady:     "Ready",
	models.StatusCompleted: "Completed",
}

type Step struct {
	Status models.OrderStatus
	Label  string
	State  StepState
}

// View is a render-ready snapshot. Status is empty until the first update.
type View struct {
	Status    models.OrderStatus
	Width     float64
	Cancelled bool
	Steps     []Step
}

func (m *Machine) viewLocked() View {
	status := m.step
	if m.cancelled {
		status = models.StatusCancelled
	}
	return View{
		Status:    status,
		Width:     m.width,
		Cancelled: m.cancelled,
		Steps:     Steps(m.step, m.cancelled),
	}
}

// Steps marks steps before step completed, step itself active and the rest pending. On a
// cancelled order the step it was cancelled at is marked cancelled instead of active.
func Steps(step models.OrderStatus, cancelled bool) []Step {
	reached := step.Index()
	out := make([]Step, len(models.Steps))
	for i, st := range models.Steps {
		state := StepPending
		switch {
		case reached < 0:
		case i < reached:
			state = StepCompleted
		case i == reached && cancelled:
			state = StepCancelled
		case i == reached:
			state = StepActive
		}
		out[i] = Step{Status: st, Label: labels[st], State: state}
	}
	return out
}
