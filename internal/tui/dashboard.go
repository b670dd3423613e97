// Package tui is the operator dashboard for a running Connector Manager: a
// termui/v3 terminal UI that polls the admin /stats endpoint and renders
// registry size, retry-queue depth and in-flight dispatch count as live
// gauges. It is the one concrete use of gizak/termui/v3, present in the
// teacher's go.mod but unexercised in the retrieved snapshot.
package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
)

// statsSnapshot mirrors the fields internal/admin.Stats exposes over JSON;
// kept local to avoid the tui package depending on the admin package just
// to decode its own response body.
type statsSnapshot struct {
	State          string `json:"state"`
	Channels       int    `json:"channels"`
	PendingRetries int    `json:"pending_retries"`
	InFlight       int64  `json:"in_flight"`
}

// Run polls statsURL every interval and redraws the dashboard until the
// user presses q or Ctrl-C.
func Run(statsURL string, interval time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("tui: init: %w", err)
	}
	defer ui.Close()

	state := widgets.NewParagraph()
	state.Title = "Connector Manager"
	state.SetRect(0, 0, 50, 3)

	channels := widgets.NewGauge()
	channels.Title = "Registered channels"
	channels.SetRect(0, 3, 50, 6)
	channels.BarColor = ui.ColorGreen

	retries := widgets.NewGauge()
	retries.Title = "Pending retries"
	retries.SetRect(0, 6, 50, 9)
	retries.BarColor = ui.ColorYellow

	inFlight := widgets.NewGauge()
	inFlight.Title = "In-flight dispatch"
	inFlight.SetRect(0, 9, 50, 12)
	inFlight.BarColor = ui.ColorCyan

	client := &http.Client{Timeout: 2 * time.Second}
	redraw := func() {
		snap, err := fetchStats(client, statsURL)
		if err != nil {
			state.Text = fmt.Sprintf("unreachable: %v", err)
		} else {
			state.Text = fmt.Sprintf("state: %s", snap.State)
			channels.Percent = clampPercent(snap.Channels, 100)
			channels.Label = fmt.Sprintf("%d", snap.Channels)
			retries.Percent = clampPercent(snap.PendingRetries, 30*100)
			retries.Label = fmt.Sprintf("%d", snap.PendingRetries)
			inFlight.Percent = clampPercent(int(snap.InFlight), 100)
			inFlight.Label = fmt.Sprintf("%d", snap.InFlight)
		}
		ui.Render(state, channels, retries, inFlight)
	}

	redraw()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()
	for {
		select {
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			}
		case <-ticker.C:
			redraw()
		}
	}
}

func fetchStats(client *http.Client, url string) (statsSnapshot, error) {
	resp, err := client.Get(url)
	if err != nil {
		return statsSnapshot{}, err
	}
	defer resp.Body.Close()

	var snap statsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return statsSnapshot{}, err
	}
	return snap, nil
}

func clampPercent(v, max int) int {
	if max <= 0 {
		return 0
	}
	p := v * 100 / max
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}
