package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/globalfifo/pkg/chardev"
	"github.com/haivivi/globalfifo/pkg/cli"
	"github.com/haivivi/globalfifo/pkg/fifo"
)

var scriptFile string

// script is a sequence of device operations loaded from YAML or JSON.
type script struct {
	Steps []scriptStep `yaml:"steps" json:"steps"`
}

type scriptStep struct {
	Op string `yaml:"op" json:"op"`

	// open
	Name     string `yaml:"name,omitempty" json:"name,omitempty"`
	Dev      int    `yaml:"dev,omitempty" json:"dev,omitempty"`
	Nonblock bool   `yaml:"nonblock,omitempty" json:"nonblock,omitempty"`
	Async    bool   `yaml:"async,omitempty" json:"async,omitempty"`

	// everything else refers to an opened handle
	File    string   `yaml:"file,omitempty" json:"file,omitempty"`
	Files   []string `yaml:"files,omitempty" json:"files,omitempty"`
	Data    string   `yaml:"data,omitempty" json:"data,omitempty"`
	Size    int      `yaml:"size,omitempty" json:"size,omitempty"`
	Cmd     uint32   `yaml:"cmd,omitempty" json:"cmd,omitempty"`
	Events  string   `yaml:"events,omitempty" json:"events,omitempty"`
	Count   int      `yaml:"count,omitempty" json:"count,omitempty"`
	Timeout string   `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	Expect      *string  `yaml:"expect,omitempty" json:"expect,omitempty"`
	ExpectN     *int     `yaml:"expect_n,omitempty" json:"expect_n,omitempty"`
	ExpectReady []string `yaml:"expect_ready,omitempty" json:"expect_ready,omitempty"`
	ExpectErr   string   `yaml:"expect_err,omitempty" json:"expect_err,omitempty"`
}

// stepResult is what one step did.
type stepResult struct {
	Step   int      `json:"step" yaml:"step"`
	Op     string   `json:"op" yaml:"op"`
	File   string   `json:"file,omitempty" yaml:"file,omitempty"`
	N      int      `json:"n" yaml:"n"`
	Data   string   `json:"data,omitempty" yaml:"data,omitempty"`
	Ready  []string `json:"ready,omitempty" yaml:"ready,omitempty"`
	Err    string   `json:"err,omitempty" yaml:"err,omitempty"`
	OK     bool     `json:"ok" yaml:"ok"`
	Reason string   `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// scriptReport lays out step results as a table.
type scriptReport []stepResult

func (r scriptReport) Value() any {
	return []stepResult(r)
}

func (r scriptReport) Header() []string {
	return []string{"STEP", "OP", "FILE", "RESULT", "STATUS"}
}

func (r scriptReport) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, s := range r {
		result := strconv.Itoa(s.N)
		switch {
		case s.Err != "":
			result = s.Err
		case s.Data != "":
			result = cli.Quote([]byte(s.Data))
		case s.Ready != nil:
			result = strings.Join(s.Ready, ",")
		}
		status := "ok"
		if !s.OK {
			status = "FAIL: " + s.Reason
		}
		rows = append(rows, []string{strconv.Itoa(s.Step), s.Op, s.File, result, status})
	}
	return rows
}

func (r scriptReport) failed() int {
	n := 0
	for _, s := range r {
		if !s.OK {
			n++
		}
	}
	return n
}

var scriptCmd = &cobra.Command{
	Use:   "script -f <file>",
	Short: "Run a scripted sequence of device operations",
	Long: `Run the steps in a YAML or JSON file against the server and check their
results. Use "-f -" to read the script from stdin.

Ops: open, close, read, write, clear, ioctl, poll, setfl, events, stat, sleep.

Example script:

  steps:
    - {op: open, name: a, dev: 0, nonblock: true}
    - {op: read, file: a, expect_err: EAGAIN}
    - {op: write, file: a, data: hello, expect_n: 5}
    - {op: poll, files: [a], events: in, expect_ready: [a]}
    - {op: read, file: a, size: 5, expect: hello}

Exits non-zero if any expectation fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if scriptFile == "" {
			return fmt.Errorf("script file is required (-f)")
		}
		var s script
		if err := cli.LoadRequest(scriptFile, &s); err != nil {
			return err
		}
		if len(s.Steps) == 0 {
			return fmt.Errorf("script has no steps")
		}

		c, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		report := runScript(cmd.Context(), c, &s)
		if err := output(report); err != nil {
			return err
		}
		if n := report.failed(); n > 0 {
			return fmt.Errorf("%d of %d steps failed", n, len(report))
		}
		return nil
	},
}

// scriptRun holds the handles opened by a script.
type scriptRun struct {
	c       *chardev.Client
	handles map[string]*chardev.File
}

func runScript(ctx context.Context, c *chardev.Client, s *script) scriptReport {
	run := &scriptRun{c: c, handles: make(map[string]*chardev.File)}
	report := make(scriptReport, 0, len(s.Steps))
	for i, step := range s.Steps {
		res := stepResult{Step: i + 1, Op: step.Op, File: step.File}
		err := run.exec(ctx, &step, &res)
		res.OK, res.Reason = check(&step, &res, err)
		report = append(report, res)
	}
	return report
}

func (r *scriptRun) file(name string) (*chardev.File, error) {
	f, ok := r.handles[name]
	if !ok {
		return nil, fmt.Errorf("no open file named %q", name)
	}
	return f, nil
}

func (r *scriptRun) exec(ctx context.Context, s *scriptStep, res *stepResult) error {
	timeout, err := stepTimeout(s.Timeout)
	if err != nil {
		return err
	}

	switch s.Op {
	case "open":
		name := s.Name
		if name == "" {
			name = "dev" + strconv.Itoa(s.Dev)
		}
		if _, dup := r.handles[name]; dup {
			return fmt.Errorf("file name %q already in use", name)
		}
		res.File = name
		f, err := r.c.Open(ctx, s.Dev, stepFlags(s))
		if err != nil {
			return err
		}
		r.handles[name] = f
		return nil

	case "close":
		f, err := r.file(s.File)
		if err != nil {
			return err
		}
		delete(r.handles, s.File)
		return f.Close()

	case "read":
		f, err := r.file(s.File)
		if err != nil {
			return err
		}
		size := s.Size
		if size <= 0 {
			size = max(f.Capacity(), 1)
		}
		rctx, cancel := withTimeout(ctx, timeout)
		defer cancel()
		buf := make([]byte, size)
		n, err := f.ReadContext(rctx, buf)
		res.N, res.Data = n, string(buf[:n])
		return err

	case "write":
		f, err := r.file(s.File)
		if err != nil {
			return err
		}
		wctx, cancel := withTimeout(ctx, timeout)
		defer cancel()
		n, err := f.WriteContext(wctx, []byte(s.Data))
		res.N = n
		return err

	case "clear":
		f, err := r.file(s.File)
		if err != nil {
			return err
		}
		return f.Clear(ctx)

	case "ioctl":
		f, err := r.file(s.File)
		if err != nil {
			return err
		}
		return f.Ioctl(ctx, fifo.Command(s.Cmd))

	case "setfl":
		f, err := r.file(s.File)
		if err != nil {
			return err
		}
		return f.SetFlags(ctx, stepFlags(s), 0)

	case "poll":
		return r.poll(ctx, s, timeout, res)

	case "events":
		return r.events(ctx, s, timeout, res)

	case "stat":
		stats, err := r.c.Stats(ctx)
		if err != nil {
			return err
		}
		for _, st := range stats {
			if st.Index == s.Dev {
				res.File = cli.DeviceName(st.Index)
				res.N = st.Len
				return nil
			}
		}
		return fmt.Errorf("%w: %d", fifo.ErrNotFound, s.Dev)

	case "sleep":
		select {
		case <-time.After(timeout):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
}

func (r *scriptRun) poll(ctx context.Context, s *scriptStep, timeout time.Duration, res *stepResult) error {
	mask := fifo.EventIn
	if s.Events != "" {
		m, err := parseEvents(s.Events)
		if err != nil {
			return err
		}
		mask = m
	}
	names := s.Files
	if len(names) == 0 && s.File != "" {
		names = []string{s.File}
	}
	reqs := make([]chardev.PollRequest, 0, len(names))
	byFile := make(map[*chardev.File]string, len(names))
	for _, name := range names {
		f, err := r.file(name)
		if err != nil {
			return err
		}
		reqs = append(reqs, chardev.PollRequest{File: f, Events: mask})
		byFile[f] = name
	}

	ready, err := r.c.Poll(ctx, reqs, timeout)
	if err != nil {
		return err
	}
	res.Ready = []string{}
	for _, p := range ready {
		res.Ready = append(res.Ready, byFile[p.File])
	}
	res.N = len(ready)
	return nil
}

// events waits for Count async notifications on File.
func (r *scriptRun) events(ctx context.Context, s *scriptStep, timeout time.Duration, res *stepResult) error {
	f, err := r.file(s.File)
	if err != nil {
		return err
	}
	want := max(s.Count, 1)
	if timeout <= 0 {
		timeout = time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for res.N < want {
		select {
		case ev, ok := <-r.c.Events():
			if !ok {
				return chardev.ErrClosed
			}
			if ev.Handle == f.Handle() {
				res.N++
			}
		case <-deadline.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// check compares a step's outcome with its expectations.
func check(s *scriptStep, res *stepResult, err error) (bool, string) {
	if err != nil {
		res.Err = errCode(err)
	}
	if s.ExpectErr != "" {
		if res.Err != s.ExpectErr {
			return false, fmt.Sprintf("want error %s, got %q", s.ExpectErr, res.Err)
		}
		return true, ""
	}
	if err != nil {
		return false, err.Error()
	}
	if s.Expect != nil && res.Data != *s.Expect {
		return false, fmt.Sprintf("want data %q, got %q", *s.Expect, res.Data)
	}
	if s.ExpectN != nil && res.N != *s.ExpectN {
		return false, fmt.Sprintf("want n=%d, got %d", *s.ExpectN, res.N)
	}
	if s.ExpectReady != nil {
		got := slices.Clone(res.Ready)
		want := slices.Clone(s.ExpectReady)
		slices.Sort(got)
		slices.Sort(want)
		if !slices.Equal(got, want) {
			return false, fmt.Sprintf("want ready %v, got %v", s.ExpectReady, res.Ready)
		}
	}
	return true, ""
}

// errCode reduces err to its errno-style name where one exists.
func errCode(err error) string {
	var re *chardev.RemoteError
	if errors.As(err, &re) {
		return re.Code
	}
	return err.Error()
}

func stepFlags(s *scriptStep) chardev.Flags {
	var fl chardev.Flags
	if s.Nonblock {
		fl |= chardev.FlagNonblock
	}
	if s.Async {
		fl |= chardev.FlagAsync
	}
	return fl
}

func stepTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", s, err)
	}
	return d, nil
}

func init() {
	scriptCmd.Flags().StringVarP(&scriptFile, "file", "f", "", "script file (YAML or JSON, - for stdin)")

	rootCmd.AddCommand(scriptCmd)
}
