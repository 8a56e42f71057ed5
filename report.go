package svctl

import (
	"encoding/json"
	"fmt"

	"github.com/google/renameio/v2"
)

// MarshalJSON renders the result with its error as text
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	out := struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain: plain(r)}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Report is the serialized form of a Summary, results sorted by service
type Report struct {
	Action    Action      `json:"action"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Stop      StopTotals  `json:"stop"`
	Start     StartTotals `json:"start"`
	ElapsedMS int64       `json:"elapsed_ms"`
	Results   []Result    `json:"results"`
}

// Report builds the serializable form of the summary
func (s *Summary) Report() Report {
	return Report{
		Action:    s.Action,
		Succeeded: s.Succeeded,
		Failed:    s.Failed,
		Stop:      s.Stop,
		Start:     s.Start,
		ElapsedMS: s.Elapsed.Milliseconds(),
		Results:   s.Sorted(),
	}
}

// WriteFile writes the report as indented JSON. The file is replaced
// atomically so readers never observe a partial report.
func (s *Summary) WriteFile(path string) error {
	data, err := json.MarshalIndent(s.Report(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
