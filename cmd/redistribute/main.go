package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"microhub-redistribution-api/internal/clock"
	"microhub-redistribution-api/internal/directory"
	"microhub-redistribution-api/internal/model"
	"microhub-redistribution-api/internal/outreach"
	"microhub-redistribution-api/internal/pricing"
	"microhub-redistribution-api/internal/repository"
	"microhub-redistribution-api/internal/retry"
	"microhub-redistribution-api/internal/service"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "redistribute",
		Usage: "Match near-expiry inventory to buyers offline",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log every outreach attempt to stderr",
			},
		},
		Before: func(ctx *cli.Context) error {
			level := zerolog.WarnLevel
			if ctx.Bool("verbose") {
				level = zerolog.DebugLevel
			}
			zerolog.SetGlobalLevel(level)
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
			return nil
		},
		Commands: []*cli.Command{
			runCmd,
			upcomingCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error: ", err)
		os.Exit(1)
	}
}

var inventoryFlag = &cli.StringFlag{
	Name:     "inventory",
	Aliases:  []string{"i"},
	Required: true,
	Usage:    "specify the inventory snapshot CSV",
}

var todayFlag = &cli.StringFlag{
	Name:  "today",
	Usage: "specify the run date (YYYY-MM-DD, default: current UTC date)",
}

var runCmd = &cli.Command{
	Name:    "run",
	Usage:   "Run one redistribution pass and print the JSON report",
	Aliases: []string{"r"},
	Flags: []cli.Flag{
		inventoryFlag,
		todayFlag,
		&cli.StringFlag{
			Name:  "buyers-db",
			Usage: "specify a SQLite database holding the buyer directory (default: built-in buyers)",
		},
		&cli.Int64Flag{
			Name:  "seed",
			Usage: "specify the random seed (0 seeds from the clock)",
		},
		&cli.Float64Flag{
			Name:  "accept",
			Value: outreach.DefaultAcceptProbability,
			Usage: "specify the simulated acceptance probability (0.0-1.0)",
		},
		&cli.BoolFlag{
			Name:  "no-latency",
			Usage: "answer simulated offers immediately",
		},
		&cli.IntFlag{
			Name:  "retry-passes",
			Usage: "specify how many retry passes to run over unsold units",
		},
		&cli.IntFlag{
			Name:  "escalation",
			Value: service.DefaultEscalationPercent,
			Usage: "specify the discount escalation per retry pass (1-90)",
		},
		&cli.StringFlag{
			Name:  "currency",
			Value: "₹",
			Usage: "specify the currency symbol of report rows",
		},
		&cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Usage:   "specify the output file (default: stdout)",
		},
	},
	Action: func(ctx *cli.Context) error {
		var (
			opts = runOptions{
				inventory:   ctx.String("inventory"),
				buyersDB:    ctx.String("buyers-db"),
				seed:        ctx.Int64("seed"),
				accept:      ctx.Float64("accept"),
				noLatency:   ctx.Bool("no-latency"),
				retryPasses: ctx.Int("retry-passes"),
				escalation:  ctx.Int("escalation"),
				currency:    ctx.String("currency"),
			}
			err error
		)
		if opts.today, err = parseToday(ctx.String("today")); err != nil {
			return err
		}
		if !(opts.accept >= 0 && opts.accept <= 1) {
			return errors.New("invalid accept")
		}
		if opts.retryPasses < 0 {
			return errors.New("invalid retry-passes")
		}
		if opts.escalation < 1 || opts.escalation > 90 {
			return errors.New("invalid escalation")
		}

		return runTo(ctx.Context, opts, ctx.String("out"))
	},
}

var upcomingCmd = &cli.Command{
	Name:    "upcoming",
	Usage:   "List units expiring after the redistribution window",
	Aliases: []string{"u"},
	Flags: []cli.Flag{
		inventoryFlag,
		todayFlag,
		&cli.IntFlag{
			Name:  "from",
			Value: service.DefaultUpcomingFrom,
			Usage: "specify the first day of the window",
		},
		&cli.IntFlag{
			Name:  "to",
			Value: service.DefaultUpcomingTo,
			Usage: "specify the last day of the window",
		},
	},
	Action: func(ctx *cli.Context) error {
		today, err := parseToday(ctx.String("today"))
		if err != nil {
			return err
		}
		from, to := ctx.Int("from"), ctx.Int("to")
		if from < 0 || to < from {
			return errors.New("invalid window")
		}

		units, _, err := repository.NewCSVSnapshot(ctx.String("inventory")).LoadSnapshot(ctx.Context)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, service.UpcomingExpiries(units, today, from, to))
	},
}

type runOptions struct {
	inventory   string
	buyersDB    string
	today       time.Time
	seed        int64
	accept      float64
	noLatency   bool
	retryPasses int
	escalation  int
	currency    string
}

// runResult is the CLI output: the run report plus the outcome of each retry pass.
type runResult struct {
	Report  *model.Report      `json:"report"`
	Rows    []model.ReportRow  `json:"rows"`
	Retries []retry.PassResult `json:"retries,omitempty"`
	Queued  []model.RetryEntry `json:"still_queued,omitempty"`
}

// runTo runs the pass and writes the result to path. The file is only created once the
// run succeeded.
func runTo(ctx context.Context, opts runOptions, path string) error {
	result, err := doRun(ctx, opts)
	if err != nil {
		return err
	}

	out, closeOut, err := output(path)
	if err != nil {
		return err
	}
	defer closeOut()
	return writeJSON(out, result)
}

func doRun(ctx context.Context, opts runOptions) (*runResult, error) {
	var buyers directory.Source = directory.SeedSource{}
	if opts.buyersDB != "" {
		repo, err := repository.NewSQLiteRepository(opts.buyersDB)
		if err != nil {
			return nil, err
		}
		defer repo.Close()
		buyers = repo
	}
	dir, _, err := directory.Load(ctx, buyers)
	if err != nil {
		return nil, err
	}

	seed := opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	simOpts := []outreach.SimulationOption{outreach.WithAcceptProbability(opts.accept)}
	if opts.noLatency {
		simOpts = append(simOpts, outreach.WithLatency(0, 0))
	}
	responder := outreach.NewSimulatedResponder(rand.New(rand.NewSource(rng.Int63())), simOpts...)
	prices := pricing.NewRandomPrices(rand.New(rand.NewSource(rng.Int63())), pricing.DefaultMinPrice, pricing.DefaultMaxPrice)

	fixed := clock.NewFixed(opts.today)
	ranker := directory.NewRanker(dir)
	dispatcher := outreach.NewDispatcher(responder)
	queue := retry.NewManager(ranker, dispatcher, retry.WithClock(fixed))
	svc := service.NewRedistributionService(ranker, dispatcher, prices, queue,
		service.WithClock(fixed),
		service.WithAutoEnqueue(opts.retryPasses > 0),
		service.WithDefaultEscalation(opts.escalation),
		service.WithSnapshotSource(repository.NewCSVSnapshot(opts.inventory)),
	)

	report, err := svc.RunSnapshot(ctx, opts.today)
	if err != nil {
		return nil, err
	}
	result := &runResult{Report: report, Rows: report.Rows(opts.currency)}

	for i := 0; i < opts.retryPasses && queue.Len() > 0; i++ {
		res, err := svc.RetryPass(ctx, opts.escalation)
		if err != nil {
			return nil, fmt.Errorf("retry pass %d: %w", i+1, err)
		}
		result.Retries = append(result.Retries, res)
	}
	result.Queued = queue.Entries()
	return result, nil
}

func parseToday(s string) (time.Time, error) {
	if s == "" {
		return clock.Today(clock.NewSystem()), nil
	}
	d, err := clock.ParseDate(s)
	if err != nil {
		return time.Time{}, errors.New("invalid today")
	}
	return d, nil
}

func output(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
