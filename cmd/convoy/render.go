package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/tsegert/convoy/internal/lifecycle"
	"github.com/tsegert/convoy/internal/scheduler"
	"github.com/tsegert/convoy/internal/stack"
)

var (
	greenState  = color.New(color.FgGreen).SprintFunc()
	redState    = color.New(color.FgRed).SprintFunc()
	yellowState = color.New(color.FgYellow).SprintFunc()
)

func colorState(state lifecycle.State) string {
	switch state {
	case lifecycle.StateRunning:
		return greenState(string(state))
	case lifecycle.StateFailed:
		return redState(string(state))
	case lifecycle.StateStarting, lifecycle.StateStopping:
		return yellowState(string(state))
	default:
		return string(state)
	}
}

func renderReport(w io.Writer, report *scheduler.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tSTATE\tDETAIL")
	for _, result := range report.Services() {
		detail := ""
		if result.Err != nil {
			detail = result.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", result.Name, colorState(result.State), detail)
	}
	_ = tw.Flush()
}

func renderStatuses(w io.Writer, statuses []stack.ServiceStatus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tSTATE\tIMAGE\tCONTAINER\tDETAIL")
	for _, status := range statuses {
		container := status.RuntimeID
		if len(container) > 12 {
			container = container[:12]
		}
		detail := ""
		if status.Err != nil {
			detail = status.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			status.Name, colorState(status.State), status.Image, container, detail)
	}
	_ = tw.Flush()
}
