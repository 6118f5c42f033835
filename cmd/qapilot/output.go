package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/odvcencio/qapilot/pkg/report"
	"github.com/odvcencio/qapilot/pkg/runstore"
	"github.com/odvcencio/qapilot/pkg/telemetry"
)

type printer struct {
	out io.Writer
	mu  sync.Mutex

	pass  lipgloss.Style
	fail  lipgloss.Style
	warn  lipgloss.Style
	dim   lipgloss.Style
	title lipgloss.Style
	box   lipgloss.Style
}

func newPrinter(out io.Writer, noColor bool) *printer {
	r := lipgloss.NewRenderer(out)
	if noColor {
		r.SetColorProfile(termenv.Ascii)
	}
	return &printer{
		out:   out,
		pass:  r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		fail:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		warn:  r.NewStyle().Foreground(lipgloss.Color("214")),
		dim:   r.NewStyle().Foreground(lipgloss.Color("245")),
		title: r.NewStyle().Bold(true),
		box:   r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
	}
}

func (p *printer) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, s)
}

// progress prints one line per case-level event.
func (p *printer) progress(ev telemetry.Event) {
	detail := func(key string) string {
		if v, ok := ev.Data[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}
	switch ev.Type {
	case telemetry.EventRunStarted:
		p.println(p.title.Render("Run "+ev.RunID) + p.dim.Render(fmt.Sprintf("  %s cases", detail("total"))))
	case telemetry.EventCaseStarted:
		p.println(p.dim.Render("RUN  ") + ev.TestID + "  " + detail("title"))
	case telemetry.EventStepSkipped:
		p.println(p.warn.Render("  skip ") + p.dim.Render(detail("step")))
	case telemetry.EventCasePassed:
		p.println(p.pass.Render("PASS ") + ev.TestID)
	case telemetry.EventCaseFailed:
		p.println(p.fail.Render("FAIL ") + ev.TestID + "  " + detail("error"))
	case telemetry.EventRunFailed:
		p.println(p.fail.Render("ABORT ") + detail("error"))
	}
}

// watch prints hub events until the returned stop func is called. stop
// drains anything still buffered before returning.
func (p *printer) watch(hub *telemetry.Hub) (stop func()) {
	ch, unsubscribe := hub.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			p.progress(ev)
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			<-done
		})
	}
}

func (p *printer) summary(s *report.RunSummary) {
	if s == nil {
		return
	}
	result := p.pass.Render("all passed")
	if s.Failed > 0 {
		result = p.fail.Render(fmt.Sprintf("%d failed", s.Failed))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", p.title.Render("Run"), s.RunID)
	fmt.Fprintf(&b, "Total %d  Passed %d  %s\n", s.Total, s.Passed, result)
	fmt.Fprintf(&b, "Report %s", s.ReportPath)
	for _, issue := range s.Issues {
		fmt.Fprintf(&b, "\n%s %s %s  %s",
			p.fail.Render(issue.BugID),
			p.dim.Render("["+issue.Severity+"/"+issue.Priority+"]"),
			issue.TestID,
			issue.Actual,
		)
	}
	p.println(p.box.Render(b.String()))
}

func (p *printer) runs(records []runstore.Record) {
	if len(records) == 0 {
		p.println(p.dim.Render("no runs recorded"))
		return
	}
	p.println(p.title.Render(fmt.Sprintf("%-44s %-4s %6s %6s %6s  %s", "RUN", "KIND", "TOTAL", "PASS", "FAIL", "STARTED")))
	for _, r := range records {
		failed := fmt.Sprintf("%6d", r.Failed)
		if r.Failed > 0 {
			failed = p.fail.Render(failed)
		}
		p.println(fmt.Sprintf("%-44s %-4s %6d %6d %s  %s",
			r.RunID, r.Kind, r.Total, r.Passed, failed,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
		))
	}
}

func (p *printer) aggregate(agg *runstore.Aggregate) {
	p.println(fmt.Sprintf("%s %d runs  %d tests  %s  %s",
		p.title.Render("History"),
		agg.Runs,
		agg.Total,
		p.pass.Render(fmt.Sprintf("%d passed", agg.Passed)),
		p.fail.Render(fmt.Sprintf("%d failed", agg.Failed)),
	))
}
