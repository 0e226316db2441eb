package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log struct {
		Level string
		Path  string
	}
	Correlator struct {
		Retention      time.Duration
		SweepInterval  time.Duration `mapstructure:"sweep_interval"`
		ThrottleWindow time.Duration `mapstructure:"throttle_window"`
	}
	Classifier struct {
		Mode              string // heuristic | remote | both
		Endpoint          string
		Timeout           time.Duration
		Keywords          []string
		ContentTypes      []string `mapstructure:"content_types"`
		ExcludedEndpoints []string `mapstructure:"excluded_endpoints"`
		MaxInFlight       int      `mapstructure:"max_in_flight"`
	}
	Pipeline struct {
		QueueSize   int           `mapstructure:"queue_size"`
		SinkTimeout time.Duration `mapstructure:"sink_timeout"`
	}
	Sources struct {
		CDP   bool
		Kafka bool
		HTTP  bool
		HAR   string
	}
	Kafka struct {
		Brokers        []string
		Topic          string
		GroupID        string
		DetectionTopic string `mapstructure:"detection_topic"`
	}
	CDP struct {
		URL       string
		TabFilter string `mapstructure:"tab_filter"`
	}
	HTTP struct {
		Addr string
	}
	InfluxDB struct {
		URL    string
		Token  string
		Org    string
		Bucket string
	}
	MySQL struct {
		DSN     string
		MaxIdle int
		MaxOpen int
	}
	GeoIP struct {
		CityPath string
		ASNPath  string
	}
	Webhook struct {
		URL string
	}
	Alert struct {
		Cooldown time.Duration
	}
	Notify struct {
		Console bool
	}
	Security struct {
		WhitelistIPs []string `mapstructure:"whitelist_ips"`
	}
}

var GlobalConfig Config

// SetDefaults 所有配置项的默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "")

	v.SetDefault("correlator.retention", 30*time.Second)
	v.SetDefault("correlator.sweep_interval", 10*time.Second)
	v.SetDefault("correlator.throttle_window", 500*time.Millisecond)

	v.SetDefault("classifier.mode", "both")
	v.SetDefault("classifier.endpoint", "http://localhost:8000/predict")
	v.SetDefault("classifier.timeout", 3*time.Second)
	v.SetDefault("classifier.keywords", []string{"chat", "conversation", "completion"})
	v.SetDefault("classifier.content_types", []string{"text/event-stream", "application/json"})
	v.SetDefault("classifier.max_in_flight", 32)

	v.SetDefault("pipeline.queue_size", 1024)
	v.SetDefault("pipeline.sink_timeout", 10*time.Second)

	v.SetDefault("sources.cdp", false)
	v.SetDefault("sources.kafka", false)
	v.SetDefault("sources.http", true)

	v.SetDefault("kafka.topic", "traffic-events")
	v.SetDefault("kafka.groupid", "llmsentry")

	v.SetDefault("cdp.url", "http://127.0.0.1:9222")

	v.SetDefault("http.addr", "127.0.0.1:8189")

	v.SetDefault("mysql.maxidle", 5)
	v.SetDefault("mysql.maxopen", 10)

	v.SetDefault("alert.cooldown", 10*time.Minute)
	v.SetDefault("notify.console", true)
}

// Load 读取 .env、环境变量和 config/config.yaml，配置文件缺失时使用默认值
func Load(v *viper.Viper) (Config, error) {
	// .env 不存在不是错误
	_ = godotenv.Load()

	SetDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.SetEnvPrefix("LLMSENTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Init() error {
	cfg, err := Load(viper.GetViper())
	if err != nil {
		return err
	}
	GlobalConfig = cfg
	return nil
}
