package checkd_config

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	ds "github.com/sqlwatch/sqlwatch/internal/domain/datasource"
	"github.com/sqlwatch/sqlwatch/internal/notify"
	"github.com/sqlwatch/sqlwatch/internal/obs"
	pginfra "github.com/sqlwatch/sqlwatch/internal/repository/postgres"
)

type KafkaCfg struct {
	Enable            bool     `mapstructure:"enable"`
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	Partitions        int      `mapstructure:"partitions"`
	ReplicationFactor int      `mapstructure:"replication_factor"`
}

// TierCfg is one schedule tier: the name stored on checks plus the
// cadence the daemon dispatches it at.
type TierCfg struct {
	Name  string        `mapstructure:"name"`
	Every time.Duration `mapstructure:"every"`
}

type EngineCfg struct {
	Attempts    int           `mapstructure:"attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	NotifyEvery time.Duration `mapstructure:"notify_every"`
}

type NotifyCfg struct {
	Workers int `mapstructure:"workers"`
	Buffer  int `mapstructure:"buffer"`
}

type ServerCfg struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type LogCfg struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	Env    string `mapstructure:"env"`
	Ver    string `mapstructure:"version"`
}

func (l LogCfg) AsLoggerConfig() obs.LogConfig {
	return obs.LogConfig{
		Level:  l.Level,
		Pretty: l.Pretty,
		App:    "checkd",
		Env:    l.Env,
		Ver:    l.Ver,
	}
}

type OTELCfg struct {
	Enable       bool    `mapstructure:"enable"`
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func (o OTELCfg) AsOTELConfig() *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      o.Enable,
		Endpoint:    o.OTLPEndpoint,
		ServiceName: o.ServiceName,
		SampleRatio: o.SampleRatio,
	}
}

type Config struct {
	DB          pginfra.Config    `mapstructure:"db"`
	Kafka       KafkaCfg          `mapstructure:"kafka"`
	SMTP        notify.SMTPConfig `mapstructure:"smtp"`
	DataSources []ds.Config       `mapstructure:"data_sources"`
	Tiers       []TierCfg         `mapstructure:"tiers"`
	Engine      EngineCfg         `mapstructure:"engine"`
	Notify      NotifyCfg         `mapstructure:"notify"`
	Server      ServerCfg         `mapstructure:"server"`
	Log         LogCfg            `mapstructure:"log"`
	OTEL        OTELCfg           `mapstructure:"otel"`
}

var knownDrivers = []any{"postgres", "sqlite3"}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DataSources,
			validation.Required,
			validation.By(validateDataSources),
		),
		validation.Field(&c.Tiers,
			validation.Required,
			validation.By(validateTiers),
		),
		validation.Field(&c.Engine, validation.By(validateEngine)),
	)
}

func validateDataSources(value interface{}) error {
	cfgs, ok := value.([]ds.Config)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a data source list")
	}
	for _, d := range cfgs {
		err := validation.ValidateStruct(&d,
			validation.Field(&d.ID, validation.Required),
			validation.Field(&d.Driver, validation.Required, validation.In(knownDrivers...)),
			validation.Field(&d.DSN, validation.Required),
			validation.Field(&d.StatementTimeout, validation.Required),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func validateTiers(value interface{}) error {
	tiers, ok := value.([]TierCfg)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a tier list")
	}
	for _, t := range tiers {
		err := validation.ValidateStruct(&t,
			validation.Field(&t.Name, validation.Required),
			validation.Field(&t.Every, validation.Required),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func validateEngine(value interface{}) error {
	e, ok := value.(EngineCfg)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be an engine config")
	}
	return validation.ValidateStruct(&e,
		validation.Field(&e.Attempts, validation.Min(1)),
	)
}
