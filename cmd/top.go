package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/urfave/cli/v2"
)

// topCmd renders a live dashboard of one service's counters, polling
// the admin HTTP /stat/{handle} route this package's server subcommand
// exposes. It is the interactive counterpart to the text control
// surface's STAT command.
func topCmd() *cli.Command {
	return &cli.Command{
		Name:  "top",
		Usage: "Live dashboard for one service's stats",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "admin_addr", Value: "127.0.0.1:9090", Usage: "Admin HTTP address to poll"},
			&cli.StringFlag{Name: "handle", Required: true, Usage: "Service handle, e.g. :00000001"},
		},
		Action: func(c *cli.Context) error {
			return runTop(c.String("admin_addr"), c.String("handle"))
		},
	}
}

type statPayload struct {
	Handle       string `json:"handle"`
	Module       string `json:"module"`
	Mqlen        int    `json:"mqlen"`
	MessageCount uint64 `json:"message_count"`
	CPUNanos     int64  `json:"cpu_ns"`
	Endless      bool   `json:"endless"`
}

func fetchStat(addr, handle string) (*statPayload, error) {
	resp, err := http.Get(fmt.Sprintf("http://%s/stat/%s", addr, handle))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("top: admin server returned %s", resp.Status)
	}
	var s statPayload
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func runTop(addr, handle string) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("top: termui init: %w", err)
	}
	defer ui.Close()

	info := widgets.NewParagraph()
	info.Title = "Service"
	info.SetRect(0, 0, 60, 6)

	gauge := widgets.NewGauge()
	gauge.Title = "Mailbox length (vs. overload threshold 1024)"
	gauge.SetRect(0, 6, 60, 9)

	history := widgets.NewPlot()
	history.Title = "Message count"
	history.Data = [][]float64{{0}}
	history.SetRect(0, 9, 60, 20)

	render := func(s *statPayload, series []float64) {
		status := "running"
		if s.Endless {
			status = "ENDLESS (stalled)"
		}
		info.Text = fmt.Sprintf("handle:  %s\nmodule:  %s\nstatus:  %s\ncpu:     %s",
			s.Handle, s.Module, status, time.Duration(s.CPUNanos))
		pct := s.Mqlen * 100 / 1024
		if pct > 100 {
			pct = 100
		}
		gauge.Percent = pct
		history.Data = [][]float64{series}
		ui.Render(info, gauge, history)
	}

	events := ui.PollEvents()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var series []float64
	for {
		select {
		case e := <-events:
			if e.Type == ui.KeyboardEvent {
				return nil
			}
		case <-ticker.C:
			s, err := fetchStat(addr, handle)
			if err != nil {
				info.Text = fmt.Sprintf("error: %v", err)
				ui.Render(info)
				continue
			}
			series = append(series, float64(s.MessageCount))
			if len(series) > 120 {
				series = series[len(series)-120:]
			}
			render(s, series)
		}
	}
}
