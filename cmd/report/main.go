// Command report renders one recorded monitoring session as a standalone
// HTML page: the official state over time, each fused feature against its
// calibrated baseline, and the session's confidence trace.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/biotrace-data/vitals.monitor/internal/db"
	"github.com/biotrace-data/vitals.monitor/internal/fusion"
)

var (
	dbFile    = flag.String("db", "vitals.db", "Session database path")
	sessionID = flag.String("session", "", "Session to report on (empty = most recent)")
	outFile   = flag.String("out", "", "Output HTML path (empty = report_<session>.html)")
	limit     = flag.Int("limit", 0, "Maximum cycles to include (0 = all)")
)

// stateLevels orders the states from idle to most elevated so the timeline
// reads as an intensity trace.
var stateLevels = []fusion.State{
	fusion.StateInitializing,
	fusion.StateUncertainStale,
	fusion.StateUncertainNaN,
	fusion.StateUncertainOther,
	fusion.StateCalm,
	fusion.StateDrowsy,
	fusion.StateWarning,
	fusion.StateStress,
}

func stateLevel(s fusion.State) int {
	for i, known := range stateLevels {
		if s == known {
			return i
		}
	}
	return 0
}

func main() {
	flag.Parse()

	database, err := db.OpenDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	session, err := resolveSession(database, *sessionID)
	if err != nil {
		log.Fatalf("failed to resolve session: %v", err)
	}

	page, cycles, err := buildReport(database, session, *limit)
	if err != nil {
		log.Fatalf("failed to build report: %v", err)
	}
	if cycles == 0 {
		log.Fatalf("session %s has no recorded cycles", session.ID)
	}

	out := *outFile
	if out == "" {
		out = fmt.Sprintf("report_%s.html", session.ID)
	}
	f, err := os.Create(out)
	if err != nil {
		log.Fatalf("failed to create %s: %v", out, err)
	}
	defer f.Close()

	if err := page.Render(f); err != nil {
		log.Fatalf("failed to render report: %v", err)
	}
	log.Printf("wrote %s (%d cycles from session %s)", out, cycles, session.ID)
}

// resolveSession returns the named session, or the most recent one when id
// is empty.
func resolveSession(database *db.DB, id string) (db.Session, error) {
	if id == "" {
		return database.LatestSession()
	}
	sessions, err := database.Sessions(0)
	if err != nil {
		return db.Session{}, err
	}
	for _, s := range sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return db.Session{}, fmt.Errorf("session %s not found", id)
}

// buildReport assembles the page from the session's recorded cycles and
// baseline. It reports how many cycles it charted.
func buildReport(database *db.DB, session db.Session, limit int) (*components.Page, int, error) {
	cycles, err := database.Cycles(session.ID, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("load cycles: %w", err)
	}
	// A session interrupted during calibration has cycles but no baseline;
	// the report still renders, just without reference lines.
	baseline, err := database.Baseline(session.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("load baseline: %w", err)
	}

	times := make([]string, len(cycles))
	for i, u := range cycles {
		times[i] = u.At.Format("15:04:05")
	}

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("Session %s", session.ID)
	page.AddCharts(
		stateChart(session, times, cycles),
		featureChart("Heart rate", "BPM", times, cycles, baseline.HeartRate,
			func(u fusion.Update) *float64 { return u.HeartRate }),
		featureChart("Alpha/beta ratio", "ratio", times, cycles, baseline.Ratio,
			func(u fusion.Update) *float64 { return u.Ratio }),
		featureChart("Theta power", "power", times, cycles, baseline.Theta,
			func(u fusion.Update) *float64 { return u.Theta }),
		featureChart("Movement", "std of |a|", times, cycles, baseline.Movement,
			func(u fusion.Update) *float64 { return u.Movement }),
		confidenceChart(times, cycles),
	)
	return page, len(cycles), nil
}

func stateChart(session db.Session, times []string, cycles []fusion.Update) *charts.Line {
	data := make([]opts.LineData, len(cycles))
	for i, u := range cycles {
		data[i] = opts.LineData{Value: stateLevel(u.State), Name: string(u.State)}
	}

	subtitle := fmt.Sprintf("started %s, %d cycles", session.StartedAt.Format(time.RFC3339), len(cycles))
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Official state", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{
			Min:  0,
			Max:  len(stateLevels) - 1,
			Name: "state level",
		}),
	)
	line.SetXAxis(times).AddSeries("state", data,
		charts.WithLineChartOpts(opts.LineChart{Step: "end"}))
	return line
}

// featureChart plots one fused feature, with the calibrated median as a
// reference line when the baseline holds it. Undefined cycles leave gaps.
func featureChart(title, unit string, times []string, cycles []fusion.Update,
	stats *fusion.FeatureStats, pick func(fusion.Update) *float64) *charts.Line {

	data := make([]opts.LineData, len(cycles))
	for i, u := range cycles {
		if v := pick(u); v != nil {
			data[i] = opts.LineData{Value: *v}
		} else {
			data[i] = opts.LineData{Value: "-"}
		}
	}

	subtitle := "no baseline recorded"
	if stats != nil {
		subtitle = fmt.Sprintf("baseline median %.2f, std %.2f", stats.Median, stats.Std)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: unit}),
	)
	line.SetXAxis(times).AddSeries(title, data)

	if stats != nil {
		ref := make([]opts.LineData, len(cycles))
		for i := range ref {
			ref[i] = opts.LineData{Value: stats.Median}
		}
		line.AddSeries("baseline median", ref,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}
	return line
}

func confidenceChart(times []string, cycles []fusion.Update) *charts.Line {
	data := make([]opts.LineData, len(cycles))
	for i, u := range cycles {
		data[i] = opts.LineData{Value: u.Confidence}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Classifier confidence"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	line.SetXAxis(times).AddSeries("confidence", data)
	return line
}
