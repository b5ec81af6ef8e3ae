package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sergev/stim/device"
	"github.com/sergev/stim/monitor"
	"github.com/sergev/stim/results"
	"github.com/sergev/stim/session"
	"github.com/sergev/stim/telemetry"
	"github.com/sergev/stim/waveform"

	// Stimulator drivers register themselves with device.
	_ "github.com/sergev/stim/simulator"
	_ "github.com/sergev/stim/wavewriter"
)

var (
	runPort       string
	runExperiment string
	runOutput     string
	runMonitor    string
	runSeed       uint64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an experiment session on the stimulator",
	Long: "Open the stimulator and start the operator console. Type help at the\n" +
		"prompt for the list of commands. Use --port MOCK to run against the\n" +
		"built-in simulator.",
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSession(cmd.Context()); err != nil {
			cobra.CheckErr(err)
		}
	},
}

func init() {
	runCmd.Flags().StringVarP(&runPort, "port", "p", "", "serial port of the stimulator (default: first supported device)")
	runCmd.Flags().StringVarP(&runExperiment, "experiment", "e", "", "experiment to run (default from config)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "output directory (default from config)")
	runCmd.Flags().StringVar(&runMonitor, "monitor", "", "serve status and metrics on this address, e.g. 127.0.0.1:9100")
	runCmd.Flags().Uint64Var(&runSeed, "seed", 0, "seed for the trial order (default: random)")
	rootCmd.AddCommand(runCmd)
}

func runSession(ctx context.Context) error {
	exp, err := conf.Lookup(runExperiment)
	if err != nil {
		return err
	}
	plan, err := exp.Plan()
	if err != nil {
		return err
	}
	variant, err := exp.ResultVariant()
	if err != nil {
		return err
	}

	dev, port, err := device.Open(runPort, device.Settings{
		BaudRate:    conf.Baud,
		ReadTimeout: conf.ReadTimeout.Duration,
	})
	if err != nil {
		return err
	}
	defer dev.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()

	dir := runOutput
	if dir == "" {
		dir = conf.OutputDir
	}
	recorderOpts := []results.RecorderOption{results.WithRecorderLogger(logger)}
	if ac := conf.ArchiveConfig(); ac.Bucket != "" {
		archive, err := results.NewS3Archive(ctx, ac)
		if err != nil {
			logger.Warn("result archive disabled", "error", err)
		} else {
			recorderOpts = append(recorderOpts, results.WithArchive(archive))
		}
	}
	recorder := results.NewRecorder(dir, variant, recorderOpts...)

	var journal *results.Journal
	if conf.Journal != "" {
		journal, err = results.OpenJournal(conf.Journal)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer journal.Close()
		logger.Info("trial journal opened", "path", journal.Path())
	}

	state := &telemetry.State{}
	events := make(chan telemetry.Event, 16)
	listener := telemetry.NewListener(dev, state,
		telemetry.WithGreeting(conf.Greeting),
		telemetry.WithLogger(logger),
		telemetry.WithMetrics(telemetry.NewMetrics(reg)),
		telemetry.WithNotify(events),
		telemetry.WithIdle(100*time.Millisecond),
	)
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		_ = listener.Run(ctx)
	}()

	var rng *rand.Rand
	if runSeed != 0 {
		rng = rand.New(rand.NewPCG(runSeed, runSeed))
	}
	m := session.New(session.Options{
		Device:         dev,
		Port:           port,
		Synthesizer:    waveform.Basic{},
		Experiment:     plan,
		Recorder:       recorder,
		Journal:        journal,
		Telemetry:      state,
		Rand:           rng,
		Logger:         logger,
		Metrics:        session.NewMetrics(reg),
		CommandTimeout: conf.CommandTimeout.Duration,
	})

	if runMonitor != "" {
		go func() {
			if err := monitor.Serve(ctx, runMonitor, monitor.NewHandler(m, reg), logger); err != nil {
				logger.Error("monitor stopped", "error", err)
			}
		}()
	}

	fmt.Printf("Experiment %s on %s, %d trials\n", plan.Name, describe(dev, port), len(plan.Trials)*plan.Repeats)
	fmt.Printf("Type help for the list of commands.\n")
	newConsole(m, os.Stdout, exp.Duration.Duration, variant).run(ctx, readLines(os.Stdin), events)

	interrupted := errors.Is(ctx.Err(), context.Canceled)
	if m.Status().Stimulation == "On" {
		if err := m.StopStimulation(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to stop stimulation", "error", err)
		}
	}
	stop()
	<-listenerDone

	st := m.Status()
	if st.State == session.Calibrating || st.State == session.SessionActive {
		fmt.Printf("Session %s/%s was not saved", st.Participant, st.SessionID)
		if journal != nil {
			fmt.Printf("; run `stim recover %s %s` to write it", st.Participant, st.SessionID)
		}
		fmt.Printf("\n")
	}
	if interrupted {
		fmt.Printf("Interrupted\n")
	}
	return nil
}

// describe names the opened device, preferring its own description.
func describe(dev device.Facade, port string) string {
	if d, ok := dev.(device.Describer); ok {
		return d.Describe()
	}
	return port
}
