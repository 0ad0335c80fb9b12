// Package notify fans one verification outcome out to the configured
// channels. Channels fail independently: a dead webhook never blocks the
// email and vice versa, and no channel failure reaches the caller as an
// error worth aborting over.
package notify

import (
	"context"
	"log"
)

// Event is the cross-channel payload for one verification run.
type Event struct {
	RunID     string `json:"runId"`
	Status    string `json:"status"`
	StartedAt string `json:"startedAt"`

	ExportsPass int `json:"exportsPass"`
	ExportsFail int `json:"exportsFail"`
	ExportsMiss int `json:"exportsMiss"`

	ComposePass  int `json:"composePass"`
	ComposeDrift int `json:"composeDrift"`
	ComposeMiss  int `json:"composeMiss"`

	ReportPath string `json:"reportPath,omitempty"`
}

// Notifier delivers one event over one channel.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
	Name() string
}

// Fanout sends ev to every notifier, logging failures and counting
// successes.
func Fanout(ctx context.Context, notifiers []Notifier, ev Event) int {
	delivered := 0
	for _, n := range notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			log.Printf("notify: %s: %v", n.Name(), err)
			continue
		}
		delivered++
	}
	return delivered
}
