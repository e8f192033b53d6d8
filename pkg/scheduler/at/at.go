package at

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/nergy-se/smartheater/pkg/planner"
	"github.com/nergy-se/smartheater/pkg/scheduler"
	"github.com/nergy-se/smartheater/pkg/state"
	"github.com/sirupsen/logrus"
)

const (
	markerPrefix = "# smartheater-job: "
	timeLayout   = "200601021504"
)

var jobLine = regexp.MustCompile(`job (\d+) at`)

// Runner executes a command with optional stdin and returns its combined
// output.
type Runner interface {
	Run(ctx context.Context, stdin string, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, bytes.TrimSpace(out))
	}
	return string(out), nil
}

// Backend schedules toggles with the at daemon. Each job script carries its
// key on a marker line, which is how jobs are found again after a restart.
type Backend struct {
	queue    string
	command  string
	location *time.Location
	runner   Runner
}

type Option func(*Backend)

func WithRunner(r Runner) Option {
	return func(b *Backend) {
		b.runner = r
	}
}

// WithLocation sets the timezone at interprets -t in. Defaults to the host
// timezone.
func WithLocation(loc *time.Location) Option {
	return func(b *Backend) {
		b.location = loc
	}
}

// New returns a backend using at queue queue. command is the switch command
// line; the desired state is appended as -state argument.
func New(queue, command string, opts ...Option) *Backend {
	b := &Backend{
		queue:    queue,
		command:  command,
		location: time.Local,
		runner:   execRunner{},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Backend) script(key planner.JobKey, s state.State) string {
	return fmt.Sprintf("%s%s\n%s -state %s\n", markerPrefix, key, b.command, s)
}

func (b *Backend) HasJob(ctx context.Context, key planner.JobKey) (bool, error) {
	pending, err := b.ListPending(ctx)
	if err != nil {
		return false, err
	}
	_, ok := pending[key]
	return ok, nil
}

func (b *Backend) SubmitJob(ctx context.Context, key planner.JobKey, at time.Time, s state.State) (scheduler.JobHandle, error) {
	ts := at.In(b.location).Format(timeLayout)
	if repeatedHour(at, b.location) {
		// at takes local wall clock time and picks one of the two instants
		logrus.WithFields(logrus.Fields{"key": key, "time": ts, "location": b.location}).
			Warn("at: time falls in the repeated hour of a DST change, the job may run an hour off")
	}
	out, err := b.runner.Run(ctx, b.script(key, s), "at", "-q", b.queue, "-t", ts)
	if err != nil {
		return "", err
	}
	m := jobLine.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("unexpected output from at: %q", strings.TrimSpace(out))
	}
	logrus.WithFields(logrus.Fields{"key": key, "id": m[1], "time": ts}).Debug("at: job added")
	return scheduler.JobHandle(m[1]), nil
}

// repeatedHour reports whether the wall clock time of t in loc occurs twice,
// which happens when clocks are set back.
func repeatedHour(t time.Time, loc *time.Location) bool {
	w := t.In(loc)
	for _, d := range []time.Duration{-time.Hour, time.Hour} {
		o := t.Add(d).In(loc)
		if o.Day() == w.Day() && o.Hour() == w.Hour() && o.Minute() == w.Minute() {
			return true
		}
	}
	return false
}

func (b *Backend) CancelJob(ctx context.Context, key planner.JobKey) error {
	pending, err := b.ListPending(ctx)
	if err != nil {
		return err
	}
	id, ok := pending[key]
	if !ok {
		return nil
	}
	if _, err := b.runner.Run(ctx, "", "atrm", string(id)); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"key": key, "id": id}).Debug("at: job removed")
	return nil
}

// ListPending reads every job in the queue and returns those carrying a key
// marker. Jobs added by hand to the same queue are ignored.
func (b *Backend) ListPending(ctx context.Context) (map[planner.JobKey]scheduler.JobHandle, error) {
	out, err := b.runner.Run(ctx, "", "atq", "-q", b.queue)
	if err != nil {
		return nil, err
	}

	pending := make(map[planner.JobKey]scheduler.JobHandle)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		id := fields[0]
		script, err := b.runner.Run(ctx, "", "at", "-c", id)
		if err != nil {
			// job fired or was removed between atq and at -c
			logrus.WithFields(logrus.Fields{"id": id}).Debugf("at: skipping job: %s", err)
			continue
		}
		if key, ok := markerKey(script); ok {
			pending[key] = scheduler.JobHandle(id)
		}
	}
	return pending, scanner.Err()
}

func markerKey(script string) (planner.JobKey, bool) {
	for _, line := range strings.Split(script, "\n") {
		if k, ok := strings.CutPrefix(line, markerPrefix); ok {
			return planner.JobKey(strings.TrimSpace(k)), true
		}
	}
	return "", false
}
