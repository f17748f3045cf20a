// Command tracedecode turns a RISC-V compact trace and the ELF binary it
// was captured against into one or more profile artifacts: instruction
// and packet statistics, a per-instruction text dump, call-stack-annotated
// traces, atomic instruction logs, a speedscope-format flamegraph, and the
// VPP/FOC path-profile and VBB basic-block-timing formats.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"rvtrace/common"
	"rvtrace/internal/bus"
	"rvtrace/internal/consumer"
	"rvtrace/internal/engine"
	"rvtrace/internal/event"
	"rvtrace/internal/image"
	"rvtrace/internal/trace"

	"golang.org/x/sync/errgroup"
)

var (
	encodedTraceFlag = &cli.StringFlag{
		Name:     "encoded-trace",
		Usage:    "path to the compact RISC-V trace packet stream",
		Required: true,
	}
	binaryFlag = &cli.StringFlag{
		Name:     "binary",
		Usage:    "path to the ELF binary the trace was captured against",
		Required: true,
	}
	brModeFlag = &cli.IntFlag{
		Name:  "br-mode",
		Usage: "branch/jump packet interpretation: 0=target 1=history 2=predict 3=reserved",
		Value: int(trace.BrTarget),
	}
	bpEntriesFlag = &cli.Uint64Flag{
		Name:  "bp-entries",
		Usage: "number of branch predictor counter entries",
		Value: 1024,
	}

	toStatsFlag      = &cli.BoolFlag{Name: "to-stats", Usage: "write trace.stats.txt"}
	toTxtFlag        = &cli.BoolFlag{Name: "to-txt", Usage: "write trace.txt", Value: true}
	toStackTxtFlag   = &cli.BoolFlag{Name: "to-stack-txt", Usage: "write trace.stack.txt"}
	toAtomicsFlag    = &cli.BoolFlag{Name: "to-atomics", Usage: "write trace.atomics.txt"}
	toAFDOFlag       = &cli.BoolFlag{Name: "to-afdo", Usage: "write an AFDO profile (scaffold, not yet wired to a writer)"}
	gcnoFlag         = &cli.StringFlag{Name: "gcno", Usage: "path to the .gcno file (required with --to-afdo)"}
	toGCDAFlag       = &cli.BoolFlag{Name: "to-gcda", Usage: "write a gcda counter file (scaffold, not yet wired to a writer)"}
	toSpeedscopeFlag = &cli.BoolFlag{Name: "to-speedscope", Usage: "write trace.speedscope.json"}
	toVPPFlag        = &cli.BoolFlag{Name: "to-vpp", Usage: "write trace.vpp.txt"}
	toFOCFlag        = &cli.BoolFlag{Name: "to-foc", Usage: "write trace.foc.txt"}
	toVBBFlag        = &cli.BoolFlag{Name: "to-vbb", Usage: "write trace.vbb.txt"}
)

var decodeCommand = &cli.Command{
	Name:  "decode",
	Usage: "reconstruct per-instruction control flow from a trace and emit profile artifacts",
	Flags: []cli.Flag{
		encodedTraceFlag, binaryFlag, brModeFlag, bpEntriesFlag,
		toStatsFlag, toTxtFlag, toStackTxtFlag, toAtomicsFlag,
		toAFDOFlag, gcnoFlag, toGCDAFlag,
		toSpeedscopeFlag, toVPPFlag, toFOCFlag, toVBBFlag,
	},
	Action: runDecode,
}

func main() {
	app := cli.NewApp()
	app.Name = "tracedecode"
	app.Usage = "RISC-V instruction trace decoder"
	app.Commands = []*cli.Command{decodeCommand}
	app.Action = decodeCommand.Action
	app.Flags = decodeCommand.Flags

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "tracedecode:", err)
		os.Exit(1)
	}
}

func runDecode(ctx *cli.Context) error {
	log := common.NewStdLogger(common.SeverityInfo)

	brMode := trace.BrMode(ctx.Int("br-mode"))
	if brMode > trace.BrReserved {
		return fmt.Errorf("tracedecode: --br-mode must be 0-3, got %d", ctx.Int("br-mode"))
	}
	if ctx.Bool("to-afdo") && ctx.String("gcno") == "" {
		return fmt.Errorf("tracedecode: --to-afdo requires --gcno")
	}

	img, err := image.Load(ctx.String("binary"))
	if err != nil {
		return fmt.Errorf("tracedecode: loading binary: %w", err)
	}

	traceFile, err := os.Open(ctx.String("encoded-trace"))
	if err != nil {
		return fmt.Errorf("tracedecode: opening trace: %w", err)
	}
	defer traceFile.Close()

	fi, err := traceFile.Stat()
	if err != nil {
		return fmt.Errorf("tracedecode: statting trace: %w", err)
	}

	b := bus.New[event.Entry](1024)

	type consumerSpec struct {
		outPath string
		newFn   func(f *os.File) consumer.Consumer
	}

	var specs []consumerSpec
	if ctx.Bool("to-stats") {
		specs = append(specs, consumerSpec{"trace.stats.txt", func(f *os.File) consumer.Consumer {
			return consumer.NewStatsConsumer(b.AddRx(), f, brMode, fi.Size())
		}})
	}
	if ctx.Bool("to-txt") {
		specs = append(specs, consumerSpec{"trace.txt", func(f *os.File) consumer.Consumer {
			return consumer.NewTxtConsumer(b.AddRx(), f)
		}})
	}
	if ctx.Bool("to-stack-txt") {
		specs = append(specs, consumerSpec{"trace.stack.txt", func(f *os.File) consumer.Consumer {
			return consumer.NewStackTxtConsumer(b.AddRx(), f, img)
		}})
	}
	if ctx.Bool("to-atomics") {
		specs = append(specs, consumerSpec{"trace.atomics.txt", func(f *os.File) consumer.Consumer {
			return consumer.NewAtomicConsumer(b.AddRx(), f, img)
		}})
	}
	if ctx.Bool("to-speedscope") {
		specs = append(specs, consumerSpec{"trace.speedscope.json", func(f *os.File) consumer.Consumer {
			return consumer.NewSpeedscopeConsumer(b.AddRx(), f, img)
		}})
	}
	if ctx.Bool("to-vpp") {
		specs = append(specs, consumerSpec{"trace.vpp.txt", func(f *os.File) consumer.Consumer {
			return consumer.NewVPPConsumer(b.AddRx(), f, img)
		}})
	}
	if ctx.Bool("to-foc") {
		specs = append(specs, consumerSpec{"trace.foc.txt", func(f *os.File) consumer.Consumer {
			return consumer.NewFOCConsumer(b.AddRx(), f, img)
		}})
	}
	if ctx.Bool("to-vbb") {
		specs = append(specs, consumerSpec{"trace.vbb.txt", func(f *os.File) consumer.Consumer {
			return consumer.NewVBBConsumer(b.AddRx(), f)
		}})
	}

	var afdoConsumer, gcdaConsumer *consumer.StubConsumer
	if ctx.Bool("to-afdo") {
		afdoConsumer = consumer.NewAFDOConsumer(b.AddRx())
	}
	if ctx.Bool("to-gcda") {
		gcdaConsumer = consumer.NewGCDAConsumer(b.AddRx())
	}

	var openFiles []*os.File
	defer func() {
		for _, f := range openFiles {
			f.Close()
		}
	}()

	consumers := make([]consumer.Consumer, 0, len(specs)+2)
	for _, spec := range specs {
		f, err := os.Create(spec.outPath)
		if err != nil {
			return fmt.Errorf("tracedecode: creating %s: %w", spec.outPath, err)
		}
		openFiles = append(openFiles, f)
		consumers = append(consumers, spec.newFn(f))
	}
	if afdoConsumer != nil {
		consumers = append(consumers, afdoConsumer)
	}
	if gcdaConsumer != nil {
		consumers = append(consumers, gcdaConsumer)
	}

	eng := engine.New(trace.NewReader(traceFile), img, b, ctx.Uint64("bp-entries"), brMode, log)

	var g errgroup.Group
	g.Go(func() error {
		_, err := eng.Run()
		return err
	})
	for _, c := range consumers {
		c := c
		g.Go(c.Run)
	}

	return g.Wait()
}
