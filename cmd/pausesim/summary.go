package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/grafana/pausesim/config"
	"github.com/grafana/pausesim/simulator"
	"github.com/grafana/pausesim/telemetry"
)

func printResult(w io.Writer, runID string, cfg config.RunConfig, res simulator.Result) {
	status := color.New(color.FgGreen, color.Bold)
	if res.Status != simulator.Success {
		status = color.New(color.FgRed, color.Bold)
	}
	_, _ = status.Fprintf(w, "%s", res.Status)
	if res.Reason != "" {
		fmt.Fprintf(w, ": %s", res.Reason)
	}
	fmt.Fprintln(w)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Run ID", "Samples", "Toggles", "Elapsed", "Trace"})
	table.Append([]string{
		runID,
		strconv.Itoa(res.Samples),
		strconv.Itoa(res.Toggles),
		res.Elapsed.Round(time.Millisecond).String(),
		cfg.OutputPath,
	})
	table.Render()

	if res.Samples > 0 {
		printSummary(w, telemetry.Summarize(res.Trace))
	}
}

func printSummary(w io.Writer, s telemetry.Summary) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	table.Append([]string{"Samples", strconv.Itoa(s.Samples)})
	table.Append([]string{"Span", s.Span().Round(time.Millisecond).String()})
	for _, name := range s.StateNames() {
		table.Append([]string{"State " + name, strconv.Itoa(s.States[name])})
	}
	table.Append([]string{"State errors", strconv.Itoa(s.StateErrors)})
	table.Append([]string{"Panel unavailable", strconv.Itoa(s.PanelUnavailable)})
	for _, key := range s.FieldErrorKeys() {
		table.Append([]string{"Field errors " + key, strconv.Itoa(s.FieldErrors[key])})
	}
	if s.LatencySamples > 0 {
		table.Append([]string{"Latency min/mean/max", fmt.Sprintf("%.1f / %.1f / %.1f ms",
			s.LatencyMin, s.LatencyMean, s.LatencyMax)})
	}
	table.Append([]string{"Latency errors", strconv.Itoa(s.LatencyErrors)})

	table.Render()
}
