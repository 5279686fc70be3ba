// Package replay runs recorded server-sent event captures through the
// stream pipeline. Every capture is replayed with several chunkings; the
// resulting transcripts must be identical and satisfy the capture's
// assertions.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"nca-go/internal/logger"
	"nca-go/internal/stream"
	"nca-go/internal/transcript"
)

// Case is one capture and what its replay must produce.
type Case struct {
	Name       string      `toml:"-"`
	Path       string      `toml:"-"`
	Charset    string      `toml:"charset"`
	Assertions []Assertion `toml:"assert"`
}

// Assertion defines a condition to verify after a case runs.
type Assertion struct {
	Type  AssertionType `toml:"type"`
	Value string        `toml:"value"` // meaning depends on Type
}

// AssertionType enumerates the kinds of assertions.
type AssertionType string

const (
	// AssertResponseContains checks that an assistant message contains Value.
	AssertResponseContains AssertionType = "response_contains"
	// AssertToolCalled checks that a tool named Value was called.
	AssertToolCalled AssertionType = "tool_called"
	// AssertMinMessages checks that at least Value (as int) messages were produced.
	AssertMinMessages AssertionType = "min_messages"
	// AssertNoDropped checks that no frame was malformed or out of order.
	AssertNoDropped AssertionType = "no_dropped"
)

// Chunking splits a capture into reads.
type Chunking struct {
	Name string
	next func(remaining int) int
}

// Whole delivers the capture in a single read.
func Whole() Chunking {
	return Chunking{Name: "whole", next: func(remaining int) int { return remaining }}
}

// Bytewise delivers one byte per read.
func Bytewise() Chunking {
	return Chunking{Name: "bytewise", next: func(int) int { return 1 }}
}

// Random delivers reads of 1 to max bytes, reproducibly for a seed.
func Random(seed uint64, max int) Chunking {
	if max < 1 {
		max = 1
	}
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return Chunking{
		Name: "random-" + strconv.FormatUint(seed, 10),
		next: func(int) int { return 1 + r.IntN(max) },
	}
}

// DefaultChunkings returns whole, bytewise and three seeded random splits.
func DefaultChunkings() []Chunking {
	return []Chunking{Whole(), Bytewise(), Random(1, 64), Random(2, 7), Random(3, 512)}
}

// Result captures the outcome of a single case.
type Result struct {
	Case         string        `json:"case"`
	Passed       bool          `json:"passed"`
	Duration     time.Duration `json:"duration_ms"`
	Bytes        int           `json:"bytes"`
	Messages     int           `json:"messages"`
	ToolCalls    int           `json:"tool_calls"`
	Stats        stream.Stats  `json:"stats"`
	Errors       []string      `json:"errors,omitempty"`
	FailedChecks []string      `json:"failed_checks,omitempty"`
}

// Report is the full replay output.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	Dir       string    `json:"dir"`
	Chunkings []string  `json:"chunkings"`
	Results   []Result  `json:"results"`
	Summary   Summary   `json:"summary"`
}

// Summary aggregates replay statistics.
type Summary struct {
	Total     int           `json:"total"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	TotalTime time.Duration `json:"total_time_ms"`
	PassRate  float64       `json:"pass_rate"`
	// Throughput is decoded bytes per second over all replays.
	Throughput float64 `json:"throughput_bps"`
}

// Load collects the *.sse captures in dir. A capture may have a sidecar
// TOML file with the same base name holding its charset and assertions.
func Load(dir string) ([]Case, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.sse"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	cases := make([]Case, 0, len(paths))
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), ".sse")
		c := Case{Name: name, Path: p}

		sidecar := strings.TrimSuffix(p, ".sse") + ".toml"
		if _, err := os.Stat(sidecar); err == nil {
			if _, err := toml.DecodeFile(sidecar, &c); err != nil {
				return nil, fmt.Errorf("case %s: %w", name, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("case %s: %w", name, err)
		}
		cases = append(cases, c)
	}
	return cases, nil
}

// Runner replays cases.
type Runner struct {
	Chunkings []Chunking
	Logger    *logger.Logger
}

// NewRunner returns a runner with the default chunkings.
func NewRunner(log *logger.Logger) *Runner {
	return &Runner{Chunkings: DefaultChunkings(), Logger: log}
}

// Run executes all cases and returns a report.
func (r *Runner) Run(ctx context.Context, dir string, cases []Case) *Report {
	report := &Report{
		Timestamp: time.Now(),
		Dir:       dir,
		Results:   make([]Result, 0, len(cases)),
	}
	for _, ch := range r.Chunkings {
		report.Chunkings = append(report.Chunkings, ch.Name)
	}

	var bytes int
	for _, c := range cases {
		res := r.RunCase(ctx, c)
		report.Results = append(report.Results, res)
		bytes += res.Bytes * len(r.Chunkings)
	}

	for _, res := range report.Results {
		report.Summary.Total++
		if res.Passed {
			report.Summary.Passed++
		} else {
			report.Summary.Failed++
		}
		report.Summary.TotalTime += res.Duration
	}
	if report.Summary.Total > 0 {
		report.Summary.PassRate = float64(report.Summary.Passed) / float64(report.Summary.Total) * 100
	}
	if secs := report.Summary.TotalTime.Seconds(); secs > 0 {
		report.Summary.Throughput = float64(bytes) / secs
	}
	return report
}

// RunCase replays one capture with every chunking.
func (r *Runner) RunCase(ctx context.Context, c Case) Result {
	result := Result{Case: c.Name}
	log := logger.OrDefault(r.Logger).WithField("case", c.Name)

	data, err := os.ReadFile(c.Path)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("read capture: %v", err))
		return result
	}
	result.Bytes = len(data)

	chunkings := r.Chunkings
	if len(chunkings) == 0 {
		chunkings = []Chunking{Whole()}
	}

	start := time.Now()
	var reference []transcript.Message
	for i, ch := range chunkings {
		msgs, stats, err := replay(ctx, data, c.Charset, ch, log)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", ch.Name, err))
			continue
		}
		if i == 0 {
			reference = msgs
			result.Stats = stats
			continue
		}
		if !reflect.DeepEqual(reference, msgs) {
			result.FailedChecks = append(result.FailedChecks,
				fmt.Sprintf("%s: transcript differs from %s", ch.Name, chunkings[0].Name))
		}
		if stats.Events != result.Stats.Events || stats.Dropped() != result.Stats.Dropped() {
			result.FailedChecks = append(result.FailedChecks,
				fmt.Sprintf("%s: %d events, %d dropped; %s had %d, %d", ch.Name,
					stats.Events, stats.Dropped(), chunkings[0].Name, result.Stats.Events, result.Stats.Dropped()))
		}
	}
	result.Duration = time.Since(start)

	result.Messages = len(reference)
	for _, m := range reference {
		if m.Role == transcript.RoleToolCall {
			result.ToolCalls++
		}
	}

	for _, a := range c.Assertions {
		if err := checkAssertion(a, reference, &result); err != nil {
			result.FailedChecks = append(result.FailedChecks, err.Error())
		}
	}
	result.Passed = len(result.Errors) == 0 && len(result.FailedChecks) == 0
	return result
}

func replay(ctx context.Context, data []byte, charset string, ch Chunking, log *logger.Logger) ([]transcript.Message, stream.Stats, error) {
	acc := stream.NewAccumulator(nil, log)
	body := &chunkReader{data: data, next: ch.next}
	err := acc.Consume(ctx, body, stream.Options{Charset: charset, ReadSize: len(data) + 1})
	return acc.Snapshot(), acc.Stats(), err
}

// chunkReader returns its data in reads sized by next.
type chunkReader struct {
	data []byte
	next func(remaining int) int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := min(r.next(len(r.data)), len(r.data), len(p))
	if n < 1 {
		n = 1
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func (r *chunkReader) Close() error { return nil }

func checkAssertion(a Assertion, msgs []transcript.Message, result *Result) error {
	switch a.Type {
	case AssertResponseContains:
		for _, m := range msgs {
			if m.Role == transcript.RoleAssistant && strings.Contains(m.Content, a.Value) {
				return nil
			}
		}
		return fmt.Errorf("no response contains %q", a.Value)

	case AssertToolCalled:
		for _, m := range msgs {
			if m.Role != transcript.RoleToolCall {
				continue
			}
			var call struct {
				Name string `json:"name"`
			}
			if json.Unmarshal([]byte(m.Content), &call) == nil && call.Name == a.Value {
				return nil
			}
		}
		return fmt.Errorf("tool %q was not called", a.Value)

	case AssertMinMessages:
		expected, err := strconv.Atoi(a.Value)
		if err != nil {
			return fmt.Errorf("min_messages: invalid value %q", a.Value)
		}
		if len(msgs) < expected {
			return fmt.Errorf("expected at least %d messages, got %d", expected, len(msgs))
		}
		return nil

	case AssertNoDropped:
		if d := result.Stats.Dropped(); d > 0 || result.Stats.DroppedBytes > 0 {
			return fmt.Errorf("%d frames and %d bytes dropped", d, result.Stats.DroppedBytes)
		}
		return nil

	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// PrintReport writes a formatted replay report.
func PrintReport(w io.Writer, report *Report) {
	fmt.Fprintln(w, "============================================")
	fmt.Fprintln(w, "  nca stream replay report")
	fmt.Fprintln(w, "============================================")
	fmt.Fprintf(w, "  Captures:  %s\n", report.Dir)
	fmt.Fprintf(w, "  Chunkings: %s\n", strings.Join(report.Chunkings, ", "))
	fmt.Fprintf(w, "  Time:      %s\n", report.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "  Results:")
	fmt.Fprintln(w, "  --------")
	for _, r := range report.Results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(w, "  [%s] %-35s %6dms  msgs=%d tools=%d dropped=%d\n",
			status, r.Case, r.Duration.Milliseconds(), r.Messages, r.ToolCalls, r.Stats.Dropped())
		for _, fc := range r.FailedChecks {
			fmt.Fprintf(w, "         -> %s\n", fc)
		}
		for _, e := range r.Errors {
			fmt.Fprintf(w, "         !! %s\n", e)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Summary:")
	fmt.Fprintln(w, "  --------")
	fmt.Fprintf(w, "  Total: %d  Passed: %d  Failed: %d  Rate: %.0f%%\n",
		report.Summary.Total, report.Summary.Passed, report.Summary.Failed, report.Summary.PassRate)
	fmt.Fprintf(w, "  Total time: %dms  Throughput: %.1f KiB/s\n",
		report.Summary.TotalTime.Milliseconds(), report.Summary.Throughput/1024)
	fmt.Fprintln(w, "============================================")
}

// SaveReport saves a report to a JSON file.
func SaveReport(report *Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
