package providers

import (
	"github.com/Shopify/sarama"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"go.yarde.network/sweeper/pkg/entities"
	"go.yarde.network/sweeper/pkg/fanout"
	"go.yarde.network/sweeper/pkg/report"
	"go.yarde.network/sweeper/pkg/sweep"
	"go.yarde.network/sweeper/pkg/topology"
	"go.yarde.network/sweeper/pkg/topology/redisshard"
)

// Sweep config keys.
const (
	ConfReportsTable  = "mysql.reports_table"
	ConfParentsTable  = "mysql.parents_table"
	ConfEntitiesTable = "mysql.entities_table"

	ConfSweepBaseCooldown  = "sweep.base_cooldown"
	ConfSweepSeedCooldown  = "sweep.seed_cooldown"
	ConfSweepSeedThreshold = "sweep.seed_threshold"

	ConfOozeInitialRate    = "ooze.initial_rate"
	ConfOozeMinRate        = "ooze.min_rate"
	ConfOozeMaxRate        = "ooze.max_rate"
	ConfOozeReviewInterval = "ooze.review_interval"
	ConfOozeBudget         = "ooze.budget"

	ConfWaitPollInterval = "wait.poll_interval"
	ConfWaitBudget       = "wait.budget"
)

func init() {
	viper.SetDefault(ConfReportsTable, "job_reports")
	viper.SetDefault(ConfParentsTable, "parents")
	viper.SetDefault(ConfEntitiesTable, "entities")

	defaults := sweep.DefaultLoopOptions
	viper.SetDefault(ConfSweepBaseCooldown, defaults.BaseCooldown)
	viper.SetDefault(ConfSweepSeedCooldown, defaults.SeedCooldown)
	viper.SetDefault(ConfSweepSeedThreshold, defaults.SeedThreshold)
	viper.SetDefault(ConfOozeInitialRate, defaults.Ooze.InitialRate)
	viper.SetDefault(ConfOozeMinRate, defaults.Ooze.MinRate)
	viper.SetDefault(ConfOozeMaxRate, defaults.Ooze.MaxRate)
	viper.SetDefault(ConfOozeReviewInterval, defaults.Ooze.ReviewInterval)
	viper.SetDefault(ConfOozeBudget, defaults.Ooze.OozeBudget)
	viper.SetDefault(ConfWaitPollInterval, defaults.Wait.PollInterval)
	viper.SetDefault(ConfWaitBudget, defaults.Wait.WaitBudget)
}

// NewReportStore binds the job report ledger to MySQL.
func NewReportStore(db *sqlx.DB) report.Store {
	return &report.SQLStore{
		DB:        db,
		TableName: viper.GetString(ConfReportsTable),
	}
}

// NewEntityStore binds the entity inventory to MySQL.
func NewEntityStore(db *sqlx.DB) *entities.Store {
	return &entities.Store{
		DB:           db,
		ParentsTable: viper.GetString(ConfParentsTable),
		EntityTable:  viper.GetString(ConfEntitiesTable),
	}
}

// NewSubmitter builds the Kafka job fan-out.
func NewSubmitter(log *zap.Logger, producer sarama.AsyncProducer) fanout.Submitter {
	return fanout.NewKafka(producer, viper.GetString(ConfKafkaJobsTopic), log)
}

// NewLoopOptions reads the sweep tuning from config.
func NewLoopOptions() sweep.LoopOptions {
	opts := sweep.DefaultLoopOptions
	opts.BaseCooldown = viper.GetDuration(ConfSweepBaseCooldown)
	opts.SeedCooldown = viper.GetDuration(ConfSweepSeedCooldown)
	opts.SeedThreshold = viper.GetInt64(ConfSweepSeedThreshold)
	opts.Ooze.InitialRate = viper.GetFloat64(ConfOozeInitialRate)
	opts.Ooze.MinRate = viper.GetFloat64(ConfOozeMinRate)
	opts.Ooze.MaxRate = viper.GetFloat64(ConfOozeMaxRate)
	opts.Ooze.ReviewInterval = viper.GetDuration(ConfOozeReviewInterval)
	opts.Ooze.OozeBudget = viper.GetDuration(ConfOozeBudget)
	opts.Wait.PollInterval = viper.GetDuration(ConfWaitPollInterval)
	opts.Wait.WaitBudget = viper.GetDuration(ConfWaitBudget)
	return opts
}

// NewLoop assembles the sweep loop.
func NewLoop(
	log *zap.Logger,
	meter metric.Meter,
	topo *topology.Config,
	shards redisshard.Factory,
	rd *redis.Client,
	reports report.Store,
	inventory *entities.Store,
	submit fanout.Submitter,
	opts sweep.LoopOptions,
) *sweep.Loop {
	return &sweep.Loop{
		Topology:  topo,
		Shards:    shards,
		Redis:     rd,
		Reports:   reports,
		Inventory: inventory,
		Submit:    submit,
		Log:       log,
		Meter:     meter,
		Options:   opts,
	}
}
