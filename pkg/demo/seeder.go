package demo

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vjranagit/hearth/pkg/issues"
	"github.com/vjranagit/hearth/pkg/types"
)

// Domain is the source the demo fixture registers its issues and
// statistics under
const Domain = "demo"

// StatisticsSink is the slice of the statistics store the seeder needs
type StatisticsSink interface {
	LastValue(ctx context.Context, statisticID string) (*float64, error)
	Ingest(ctx context.Context, meta types.Metadata, points []types.Point) error
}

// IssueSink receives the advisory issue reports
type IssueSink interface {
	Report(issue issues.Issue) error
}

// Config tunes the seeder. The zero value seeds live random data over
// the day before the current local midnight.
type Config struct {
	// Seed fixes the base random seed; 0 means time-seeded
	Seed int64
	// Now overrides the clock, for tests
	Now func() time.Time
	// NewRand overrides the per-series random sources, for tests. It is
	// called once per series, in a fixed order, before seeding starts.
	NewRand func() Rand
	Logger  *slog.Logger
}

// Seeder writes the demo fixture into the issue registry and the
// statistics store.
type Seeder struct {
	issues  IssueSink
	stats   StatisticsSink
	now     func() time.Time
	newRand func() Rand
	log     *slog.Logger
}

// NewSeeder creates a seeder. stats may be nil when no statistics store
// is configured; statistics seeding is then skipped.
func NewSeeder(issueSink IssueSink, stats StatisticsSink, cfg *Config) *Seeder {
	if cfg == nil {
		cfg = &Config{}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	newRand := cfg.NewRand
	if newRand == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		master := rand.New(rand.NewSource(seed))
		// Every series gets its own source so concurrently seeded
		// series stay independent
		newRand = func() Rand { return rand.New(rand.NewSource(master.Int63())) }
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Seeder{
		issues:  issueSink,
		stats:   stats,
		now:     now,
		newRand: newRand,
		log:     log.With("component", "demo-seeder"),
	}
}

// Run seeds the whole fixture: the advisory issues first, then the
// statistics when a statistics store is available.
func (s *Seeder) Run(ctx context.Context) error {
	log := s.log.With("run_id", uuid.NewString())

	if err := s.createIssues(log); err != nil {
		return err
	}

	if s.stats == nil {
		log.Info("no statistics store configured, skipping statistics seed")
		return nil
	}
	return s.insertStatistics(ctx, log)
}

// CreateIssues registers the fixture issues with the issue registry
func (s *Seeder) CreateIssues() error {
	return s.createIssues(s.log)
}

// InsertStatistics seeds all demo series over the day before the
// current local midnight
func (s *Seeder) InsertStatistics(ctx context.Context) error {
	return s.insertStatistics(ctx, s.log)
}

func (s *Seeder) createIssues(log *slog.Logger) error {
	for _, issue := range fixtureIssues {
		if err := s.issues.Report(issue); err != nil {
			return fmt.Errorf("report issue %s: %w", issue.ID, err)
		}
	}
	log.Info("registered demo issues", "count", len(fixtureIssues))
	return nil
}

func (s *Seeder) insertStatistics(ctx context.Context, log *slog.Logger) error {
	now := s.now()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	start := end.AddDate(0, 0, -1)

	// Fixed allocation order keeps seeded runs reproducible
	tempRand := s.newRand()
	sumRands := make([]Rand, len(sumSeriesFixtures))
	for i := range sumSeriesFixtures {
		sumRands[i] = s.newRand()
	}

	points := MeanStatistics(tempRand, start, end, outdoorTemperature.initValue, outdoorTemperature.maxDiff)
	if err := s.stats.Ingest(ctx, outdoorTemperature.meta, points); err != nil {
		return fmt.Errorf("seed %s: %w", outdoorTemperature.meta.StatisticID, err)
	}
	log.Info("seeded statistics", "statistic_id", outdoorTemperature.meta.StatisticID, "rows", len(points))

	// The sum series are independent of one another, so they seed
	// concurrently; the first failure cancels the rest
	g, gctx := errgroup.WithContext(ctx)
	for i, series := range sumSeriesFixtures {
		series, rnd := series, sumRands[i]
		g.Go(func() error {
			return s.seedSum(gctx, log, series, rnd, start, end)
		})
	}
	return g.Wait()
}

// seedSum continues one cumulative series: read where it left off,
// generate the window, write it back
func (s *Seeder) seedSum(ctx context.Context, log *slog.Logger, series sumSeries, rnd Rand, start, end time.Time) error {
	id := series.meta.StatisticID

	last, err := s.stats.LastValue(ctx, id)
	if err != nil {
		return fmt.Errorf("last value for %s: %w", id, err)
	}
	// A series that has never recorded a sum starts at zero
	sum := types.Float64Value(last)

	points := SumStatistics(rnd, start, end, sum, series.maxDiff)
	if err := s.stats.Ingest(ctx, series.meta, points); err != nil {
		return fmt.Errorf("seed %s: %w", id, err)
	}
	log.Info("seeded statistics", "statistic_id", id, "rows", len(points), "from", sum)
	return nil
}

type meanSeries struct {
	meta      types.Metadata
	initValue float64
	maxDiff   float64
}

type sumSeries struct {
	meta    types.Metadata
	maxDiff float64
}

// outdoorTemperature is the one mean-kind demo series
var outdoorTemperature = meanSeries{
	meta: types.Metadata{
		Source:      Domain,
		Name:        "Outdoor temperature",
		StatisticID: types.StatisticID(Domain, "temperature_outdoor"),
		Unit:        "°C",
		HasMean:     true,
	},
	initValue: 15,
	maxDiff:   1,
}

// The sum-kind demo series: household-scale energy and gas consumption,
// each metered in two units
var sumSeriesFixtures = []sumSeries{
	{
		meta: types.Metadata{
			Source:      Domain,
			Name:        "Energy consumption 1",
			StatisticID: types.StatisticID(Domain, "energy_consumption_kwh"),
			Unit:        "kWh",
			HasSum:      true,
		},
		maxDiff: 1,
	},
	{
		meta: types.Metadata{
			Source:      Domain,
			Name:        "Energy consumption 2",
			StatisticID: types.StatisticID(Domain, "energy_consumption_mwh"),
			Unit:        "MWh",
			HasSum:      true,
		},
		maxDiff: 0.001,
	},
	{
		meta: types.Metadata{
			Source:      Domain,
			Name:        "Gas consumption 1",
			StatisticID: types.StatisticID(Domain, "gas_consumption_m3"),
			Unit:        "m³",
			HasSum:      true,
		},
		maxDiff: 0.5,
	},
	{
		meta: types.Metadata{
			Source:      Domain,
			Name:        "Gas consumption 2",
			StatisticID: types.StatisticID(Domain, "gas_consumption_ft3"),
			Unit:        "ft³",
			HasSum:      true,
		},
		maxDiff: 15,
	},
}

// The fixture issues cover the situations integrations report in the
// wild: deprecations, failing hardware, and problems with and without
// a guided fix.
var fixtureIssues = []issues.Issue{
	{
		Domain:          Domain,
		ID:              "transmogrifier_deprecated",
		Severity:        issues.SeverityWarning,
		Fixable:         false,
		LearnMoreURL:    "https://en.wiktionary.org/wiki/transmogrifier",
		BreaksInVersion: "2023.1.1",
		TranslationKey:  "transmogrifier_deprecated",
	},
	{
		Domain:          Domain,
		ID:              "out_of_blinker_fluid",
		Severity:        issues.SeverityCritical,
		Fixable:         true,
		LearnMoreURL:    "https://www.youtube.com/watch?v=b9rntRxLlbU",
		BreaksInVersion: "2023.1.1",
		TranslationKey:  "out_of_blinker_fluid",
	},
	{
		Domain:         Domain,
		ID:             "unfixable_problem",
		Severity:       issues.SeverityWarning,
		Fixable:        false,
		LearnMoreURL:   "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		TranslationKey: "unfixable_problem",
	},
	{
		Domain:         Domain,
		ID:             "bad_psu",
		Severity:       issues.SeverityCritical,
		Fixable:        true,
		LearnMoreURL:   "https://www.youtube.com/watch?v=b9rntRxLlbU",
		TranslationKey: "bad_psu",
	},
	{
		Domain:         Domain,
		ID:             "cold_tea",
		Severity:       issues.SeverityWarning,
		Fixable:        true,
		TranslationKey: "cold_tea",
	},
}
