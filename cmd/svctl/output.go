package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"

	"github.com/axondata/go-svctl"
)

// progress shows a spinner with a completed/total counter on stderr. The
// spinner stays silent when stderr is not a terminal.
type progress struct {
	mu    sync.Mutex
	spin  *spinner.Spinner
	label string
	total int
	done  int
}

func newProgress(label string, total int, quiet bool) *progress {
	p := &progress{label: label, total: total}
	if quiet {
		return p
	}
	p.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	p.spin.Suffix = p.suffix()
	p.spin.Start()
	return p
}

func (p *progress) suffix() string {
	return fmt.Sprintf(" %s %d/%d services", p.label, p.done, p.total)
}

// Observe is a svctl progress callback
func (p *progress) Observe(svctl.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	if p.spin != nil {
		p.spin.Lock()
		p.spin.Suffix = p.suffix()
		p.spin.Unlock()
	}
}

func (p *progress) Stop() {
	if p.spin != nil {
		p.spin.Stop()
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printSummary renders a fan-out summary, one block per service
func printSummary(sum *svctl.Summary) {
	for _, r := range sum.Sorted() {
		status := "ok"
		if r.Err != nil {
			status = "FAILED"
		}
		fmt.Fprintf(os.Stdout, "%s: %s %s\n", r.Service, r.Action, status)
		if r.Stop != nil {
			printBucket("stopped", r.Stop.Stopped)
			printBucket("already stopped", r.Stop.AlreadyStopped)
			printBucket("stop failed", r.Stop.Failed)
		}
		if r.Start != nil {
			printBucket("started", r.Start.Started)
			printBucket("already running", r.Start.AlreadyRunning)
			printBucket("start failed", r.Start.Failed)
		}
		if r.Action == svctl.ActionSignalWorkers {
			printBucket("signaled", r.Signaled)
		}
		if r.Err != nil {
			fmt.Fprintf(os.Stdout, "  error: %v\n", r.Err)
		}
	}
	fmt.Fprintf(os.Stdout, "\n%d succeeded, %d failed in %s\n",
		sum.Succeeded, sum.Failed, sum.Elapsed.Round(time.Millisecond))
}

func printBucket(label string, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintf(os.Stdout, "  %-16s %s\n", label+":", strings.Join(names, ", "))
}

// printStatus renders info results as a process table
func printStatus(sum *svctl.Summary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tPROCESS\tSTATE\tPID\tKIND\tDESCRIPTION")
	for _, r := range sum.Sorted() {
		if r.Err != nil {
			fmt.Fprintf(w, "%s\t-\tERROR\t-\t-\t%v\n", r.Service, r.Err)
			continue
		}
		for _, p := range r.Processes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				r.Service, p.QualifiedName(), p.State, p.PID, svctl.Classify(p.Name), p.Description)
		}
	}
	_ = w.Flush()
}
