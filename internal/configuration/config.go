package configuration

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Server   ServerConfig   `mapstructure:"server"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Export   ExportConfig   `mapstructure:"export"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type DatabaseConfig struct {
	// Driver selects the observation store: "postgres" or "local".
	Driver    string `mapstructure:"driver"`
	Host      string `mapstructure:"host"`
	Port      string `mapstructure:"port"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	DBName    string `mapstructure:"name"`
	SSLMode   string `mapstructure:"ssl_mode"`
	LocalPath string `mapstructure:"local_path"`
}

type MinIOConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket"`
	UseSSL     bool   `mapstructure:"use_ssl"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	// PublicURL prefixes relative image paths in projected observations.
	PublicURL string `mapstructure:"public_url"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

type AuthConfig struct {
	IssuerURL string `mapstructure:"issuer_url"`
	ClientID  string `mapstructure:"client_id"`
}

// LabelConfig maps a metadata key to its export column header.
type LabelConfig struct {
	Key   string `mapstructure:"key"`
	Label string `mapstructure:"label"`
}

type ExportConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	TempDir       string        `mapstructure:"temp_dir"`
	RatePerMinute int           `mapstructure:"rate_per_minute"`
	Labels        []LabelConfig `mapstructure:"labels"`
}

type CacheConfig struct {
	FuzzyTTLMinutes int `mapstructure:"fuzzy_ttl_minutes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Env         string `mapstructure:"env"`
}

// DefaultLabels is the metadata label set used when none is configured.
var DefaultLabels = []LabelConfig{
	{Key: "otherLabel", Label: "Other Plant Label"},
	{Key: "ashSpecies", Label: "Ash Species"},
	{Key: "seedsBinary", Label: "Seeds"},
	{Key: "flowersBinary", Label: "Flowers"},
	{Key: "emeraldAshBorer", Label: "Ash Borer"},
	{Key: "chestnutBlightSigns", Label: "Chestnut Blight Signs"},
	{Key: "woollyAdesCoverage", Label: "Woolly Adelgid Coverage"},
	{Key: "crownHealth", Label: "Crown Health"},
	{Key: "diameterNumeric", Label: "Tree Diameter"},
	{Key: "heightNumeric", Label: "Tree Height"},
	{Key: "burrs", Label: "Nuts/Burrs"},
	{Key: "acorns", Label: "Acorns"},
	{Key: "locationCharacteristics", Label: "Habitat"},
	{Key: "nearbyTrees", Label: "Trees Nearby"},
	{Key: "comment", Label: "Comment"},
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TREESNAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "treesnap")
	v.SetDefault("database.password", "treesnap")
	v.SetDefault("database.name", "treesnap")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.local_path", "observations.json")
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key", "minioadmin")
	v.SetDefault("minio.secret_key", "minioadmin")
	v.SetDefault("minio.bucket", "downloads")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", true)
	v.SetDefault("auth.issuer_url", "http://localhost:8081/realms/treesnap")
	v.SetDefault("auth.client_id", "frontend")
	v.SetDefault("export.batch_size", 800)
	v.SetDefault("export.temp_dir", "./temp/exports")
	v.SetDefault("export.rate_per_minute", 6)
	v.SetDefault("cache.fuzzy_ttl_minutes", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "treesnap-export")
	v.SetDefault("tracing.env", "development")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if len(cfg.Export.Labels) == 0 {
		cfg.Export.Labels = append([]LabelConfig(nil), DefaultLabels...)
	}

	return &cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
