package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/noah-isme/immigration-dms-api/internal/models"
	appErrors "github.com/noah-isme/immigration-dms-api/pkg/errors"
)

// statusAdjacency is the complete set of allowed application transitions.
// Statuses without an entry are terminal.
var statusAdjacency = map[models.ApplicationStatus][]models.ApplicationStatus{
	models.StatusDraft: {
		models.StatusSubmitted, models.StatusWithdrawn, models.StatusExpired,
	},
	models.StatusSubmitted: {
		models.StatusUnderReview, models.StatusWithdrawn, models.StatusOnHold, models.StatusExpired,
	},
	models.StatusUnderReview: {
		models.StatusAdditionalInfoRequired, models.StatusInterviewScheduled, models.StatusDecisionPending,
		models.StatusWithdrawn, models.StatusOnHold, models.StatusExpired,
	},
	models.StatusAdditionalInfoRequired: {
		models.StatusUnderReview, models.StatusWithdrawn, models.StatusOnHold, models.StatusExpired,
	},
	models.StatusInterviewScheduled: {
		models.StatusUnderReview, models.StatusDecisionPending, models.StatusWithdrawn, models.StatusOnHold, models.StatusExpired,
	},
	models.StatusDecisionPending: {
		models.StatusApproved, models.StatusRejected, models.StatusWithdrawn, models.StatusOnHold,
	},
	models.StatusOnHold: {
		models.StatusUnderReview, models.StatusWithdrawn, models.StatusExpired,
	},
	models.StatusRejected: {
		models.StatusAppealed,
	},
	models.StatusAppealed: {
		models.StatusUnderReview, models.StatusDecisionPending, models.StatusWithdrawn,
	},
}

// StatusMachine validates application transitions. Each target status is an
// fsm event whose sources are the statuses allowed to reach it.
type StatusMachine struct {
	events fsm.Events
}

// NewStatusMachine builds the event table from the adjacency list.
func NewStatusMachine() *StatusMachine {
	sources := make(map[models.ApplicationStatus][]string)
	for from, targets := range statusAdjacency {
		for _, to := range targets {
			sources[to] = append(sources[to], string(from))
		}
	}
	events := make(fsm.Events, 0, len(sources))
	for _, to := range models.ApplicationStatuses {
		src, ok := sources[to]
		if !ok {
			continue
		}
		events = append(events, fsm.EventDesc{Name: string(to), Src: src, Dst: string(to)})
	}
	return &StatusMachine{events: events}
}

func (m *StatusMachine) machine(current models.ApplicationStatus) *fsm.FSM {
	return fsm.NewFSM(string(current), m.events, fsm.Callbacks{})
}

// IsTerminal reports whether no transition leaves status.
func (m *StatusMachine) IsTerminal(status models.ApplicationStatus) bool {
	return len(statusAdjacency[status]) == 0
}

// CanTransition reports whether from -> to is an allowed edge.
func (m *StatusMachine) CanTransition(from, to models.ApplicationStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return m.machine(from).Can(string(to))
}

// Allowed lists the statuses reachable from current in lifecycle order.
func (m *StatusMachine) Allowed(current models.ApplicationStatus) []models.ApplicationStatus {
	if !current.Valid() {
		return []models.ApplicationStatus{}
	}
	available := make(map[string]struct{})
	for _, name := range m.machine(current).AvailableTransitions() {
		available[name] = struct{}{}
	}
	allowed := make([]models.ApplicationStatus, 0, len(available))
	for _, status := range models.ApplicationStatuses {
		if _, ok := available[string(status)]; ok {
			allowed = append(allowed, status)
		}
	}
	return allowed
}

// Apply runs the transition and returns ErrInvalidTransition when the edge is
// not allowed.
func (m *StatusMachine) Apply(ctx context.Context, from, to models.ApplicationStatus) error {
	if !from.Valid() || !to.Valid() {
		return invalidTransition(from, to)
	}
	f := m.machine(from)
	if err := f.Event(ctx, string(to)); err != nil {
		var invalid fsm.InvalidEventError
		var unknown fsm.UnknownEventError
		if errors.As(err, &invalid) || errors.As(err, &unknown) {
			return invalidTransition(from, to)
		}
		return appErrors.WrapAs(appErrors.ErrInternal, err, "status machine failure")
	}
	if f.Current() != string(to) {
		return invalidTransition(from, to)
	}
	return nil
}

func invalidTransition(from, to models.ApplicationStatus) error {
	return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move application from %s to %s", from, to))
}
