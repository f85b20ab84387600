package ycsbrun

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/magiconair/properties"
	ycsbclient "github.com/pingcap/go-ycsb/pkg/client"
	"github.com/pingcap/go-ycsb/pkg/measurement"
	"github.com/pingcap/go-ycsb/pkg/prop"
	"github.com/pingcap/go-ycsb/pkg/ycsb"
	_ "github.com/pingcap/go-ycsb/pkg/workload"

	"pkt.systems/dsbench/internal/samples"
	"pkt.systems/dsbench/internal/store"
	"pkt.systems/pslog"
)

// Params describes one workload phase.
type Params struct {
	Table          string
	RecordCount    int64
	OperationCount int64
	Threads        int
	Target         int
	// Props are raw YCSB properties layered on top of the computed
	// ones, e.g. readproportion or requestdistribution.
	Props map[string]string
}

// Executor runs YCSB core workload phases against a shared client.
type Executor struct {
	Client  store.Client
	Logger  pslog.Logger
	Samples *samples.Writer
}

func (e *Executor) logger() pslog.Logger {
	if e.Logger == nil {
		return pslog.NoopLogger()
	}
	return e.Logger
}

// Load executes the YCSB load phase, inserting RecordCount records.
func (e *Executor) Load(ctx context.Context, p Params) ([]samples.Sample, error) {
	return e.run(ctx, p, false)
}

// Run executes the YCSB transaction phase.
func (e *Executor) Run(ctx context.Context, p Params) ([]samples.Sample, error) {
	return e.run(ctx, p, true)
}

func (e *Executor) run(ctx context.Context, p Params, doTransactions bool) ([]samples.Sample, error) {
	command := "load"
	if doTransactions {
		command = "run"
	}
	props, rawOutput, err := e.buildProperties(p, doTransactions, command)
	if err != nil {
		return nil, err
	}
	defer os.Remove(rawOutput)

	measurement.InitMeasure(props)
	workloadName := props.GetString(prop.Workload, "core")
	workloadCreator := ycsb.GetWorkloadCreator(workloadName)
	if workloadCreator == nil {
		return nil, fmt.Errorf("ycsbrun: workload %q is not registered", workloadName)
	}
	workload, err := workloadCreator.Create(props)
	if err != nil {
		return nil, fmt.Errorf("ycsbrun: create workload: %w", err)
	}
	db := ycsbclient.DbWrapper{DB: NewDB(e.Client)}

	e.logger().Info("ycsb.phase.begin",
		"command", command,
		"table", p.Table,
		"recordcount", p.RecordCount,
		"operationcount", p.OperationCount,
		"threads", props.GetInt(prop.ThreadCount, 1),
	)
	start := time.Now()
	c := ycsbclient.NewClient(props, workload, db)
	c.Run(ctx)
	elapsed := time.Since(start)
	workload.Close()
	measurement.Output()

	phaseSamples := e.collectSamples(command, p, elapsed, rawOutput)
	e.logger().Info("ycsb.phase.finish", "command", command, "elapsed", elapsed)
	return phaseSamples, nil
}

func (e *Executor) buildProperties(p Params, doTransactions bool, command string) (*properties.Properties, string, error) {
	if p.Table == "" {
		return nil, "", fmt.Errorf("ycsbrun: table is required")
	}
	props := properties.NewProperties()
	props.Set(prop.Workload, "core")
	props.Set(prop.TableName, p.Table)
	props.Set(prop.RecordCount, strconv.FormatInt(p.RecordCount, 10))
	props.Set(prop.OperationCount, strconv.FormatInt(p.OperationCount, 10))
	threads := p.Threads
	if threads < 1 {
		threads = 1
	}
	props.Set(prop.ThreadCount, strconv.Itoa(threads))
	if p.Target > 0 {
		props.Set(prop.Target, strconv.Itoa(p.Target))
	}
	props.Set(prop.DoTransactions, strconv.FormatBool(doTransactions))
	props.Set(prop.Command, command)
	for key, value := range p.Props {
		props.Set(key, value)
	}

	tmp, err := os.CreateTemp("", "dsbench-measurement-*.txt")
	if err != nil {
		return nil, "", fmt.Errorf("ycsbrun: create raw output file: %w", err)
	}
	rawOutput := tmp.Name()
	_ = tmp.Close()
	props.Set(prop.MeasurementRawOutputFile, rawOutput)
	return props, rawOutput, nil
}

func (e *Executor) collectSamples(command string, p Params, elapsed time.Duration, rawOutput string) []samples.Sample {
	metadata := map[string]string{
		"command": command,
		"table":   p.Table,
	}
	ops := p.OperationCount
	if command == "load" {
		ops = p.RecordCount
	}
	out := []samples.Sample{{
		Metric:   command + " overall Throughput",
		Value:    float64(ops) / math.Max(elapsed.Seconds(), 0.000001),
		Unit:     "ops/sec",
		Metadata: metadata,
	}}

	lines, err := readSummaryLines(rawOutput)
	if err != nil {
		e.logger().Warn("ycsb.raw_output.unreadable", "path", rawOutput, "error", err)
	}
	for _, line := range lines {
		op, stats := parseSummaryLine(line)
		if op == "" {
			continue
		}
		for name, value := range stats {
			out = append(out, samples.Sample{
				Metric:   fmt.Sprintf("%s %s %s", command, op, name),
				Value:    value,
				Unit:     statUnit(name),
				Metadata: metadata,
			})
		}
	}
	if e.Samples != nil {
		for _, s := range out {
			if err := e.Samples.Emit(s); err != nil {
				e.logger().Warn("ycsb.sample.emit_failed", "metric", s.Metric, "error", err)
			}
		}
	}
	return out
}

func readSummaryLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if isSummaryLine(line) {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return lines, err
	}
	return lines, nil
}

func isSummaryLine(line string) bool {
	return strings.Contains(line, " - Takes(s):")
}

// parseSummaryLine decodes lines like
//
//	READ - Takes(s): 10.0, Count: 100, OPS: 10.0, Avg(us): 123, 99th(us): 400
//
// into the operation name and its statistics.
func parseSummaryLine(line string) (string, map[string]float64) {
	op, rest, found := strings.Cut(line, " - ")
	if !found {
		return "", nil
	}
	op = strings.TrimSpace(op)
	stats := make(map[string]float64)
	for _, pair := range strings.Split(rest, ",") {
		name, raw, found := strings.Cut(pair, ":")
		if !found {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			continue
		}
		stats[strings.TrimSpace(name)] = value
	}
	return op, stats
}

func statUnit(name string) string {
	switch {
	case strings.Contains(name, "(us)"):
		return "us"
	case strings.Contains(name, "(s)"):
		return "s"
	case name == "OPS":
		return "ops/sec"
	case name == "Count":
		return "ops"
	default:
		return ""
	}
}
