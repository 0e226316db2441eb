package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-llmsentry/pkg/alerter"
	"go-llmsentry/pkg/analyzer"
	"go-llmsentry/pkg/api"
	"go-llmsentry/pkg/cdp"
	"go-llmsentry/pkg/classifier"
	"go-llmsentry/pkg/config"
	"go-llmsentry/pkg/consumer"
	"go-llmsentry/pkg/correlator"
	"go-llmsentry/pkg/har"
	"go-llmsentry/pkg/logger"
	"go-llmsentry/pkg/sink"
	"go-llmsentry/pkg/storage"

	"github.com/oschwald/geoip2-golang"
)

func init() {
	// 初始化配置
	if err := config.Init(); err != nil {
		logger.Log.Fatal("初始化配置失败:", err)
	}

	// 初始化日志
	if err := logger.Init(); err != nil {
		logger.Log.Fatal("初始化日志失败:", err)
	}
}

func main() {
	cfg := config.GlobalConfig
	defer logger.Sync()

	logger.Log.Info("开始启动LLM流量检测服务...")
	logger.Log.Infof("分类配置: mode=%s, endpoint=%s", cfg.Classifier.Mode, cfg.Classifier.Endpoint)

	// 初始化存储层 (InfluxDB 和 MySQL，未配置时跳过)
	store, err := storage.NewStorage(&cfg)
	if err != nil {
		logger.Log.Fatal("初始化存储层失败:", err)
	}
	defer store.Close()
	logger.Log.Info("存储层初始化成功")

	// 分类器
	heuristic := classifier.NewHeuristic(cfg.Classifier.Keywords)
	var remote classifier.Classifier
	if cfg.Classifier.Mode != classifier.ModeHeuristic {
		remote = classifier.NewHTTPClient(cfg.Classifier.Endpoint, cfg.Classifier.Timeout, &http.Client{})
	}
	chain, err := classifier.NewChain(cfg.Classifier.Mode, heuristic, remote)
	if err != nil {
		logger.Log.Fatal("初始化分类器失败:", err)
	}

	// 关联器：分类服务自身的流量不参与观测
	selfEndpoints := append([]string{cfg.Classifier.Endpoint}, cfg.Classifier.ExcludedEndpoints...)
	corr := correlator.New(correlator.Options{
		Retention:      cfg.Correlator.Retention,
		SweepInterval:  cfg.Correlator.SweepInterval,
		ThrottleWindow: cfg.Correlator.ThrottleWindow,
		SelfEndpoints:  selfEndpoints,
		HeaderMatcher:  classifier.NewContentTypeMatcher(heuristic, cfg.Classifier.ContentTypes),
	})

	// Sink
	sinks := sink.Multi{sink.LogSink{}}
	if cfg.Notify.Console {
		sinks = append(sinks, sink.NewConsoleNotifier(os.Stdout))
	}
	if cfg.Webhook.URL != "" || cfg.MySQL.DSN != "" {
		a := alerter.NewAlerter(store, cfg.Webhook.URL, cfg.Alert.Cooldown)
		defer a.Close()
		sinks = append(sinks, a)
	}
	if cfg.Kafka.DetectionTopic != "" && len(cfg.Kafka.Brokers) > 0 {
		producer, err := sink.NewKafkaProducer(cfg.Kafka.Brokers)
		if err != nil {
			logger.Log.Fatal("初始化Kafka生产者失败:", err)
		}
		kafkaSink := sink.NewKafkaSink(producer, cfg.Kafka.DetectionTopic)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}

	pipeline := analyzer.NewPipeline(corr, chain, sinks, analyzer.Options{
		QueueSize:   cfg.Pipeline.QueueSize,
		MaxInFlight: cfg.Classifier.MaxInFlight,
		TaskTimeout: cfg.Classifier.Timeout + time.Second,
		SinkTimeout: cfg.Pipeline.SinkTimeout,
	}).WithRecorder(store)
	pipeline.LoadWhitelistFromConfig(cfg.Security.WhitelistIPs)

	// 初始化GeoIP数据库
	if cfg.GeoIP.CityPath != "" || cfg.GeoIP.ASNPath != "" {
		var geoIP, asnDB *geoip2.Reader
		if cfg.GeoIP.CityPath != "" {
			geoIP, err = geoip2.Open(cfg.GeoIP.CityPath)
			if err != nil {
				logger.Log.Fatal("初始化GeoIP数据库失败:", err)
			}
			defer geoIP.Close()
		}
		if cfg.GeoIP.ASNPath != "" {
			asnDB, err = geoip2.Open(cfg.GeoIP.ASNPath)
			if err != nil {
				logger.Log.Fatal("初始化ASN数据库失败:", err)
			}
			defer asnDB.Close()
		}
		pipeline.WithEnricher(analyzer.NewGeoEnricher(geoIP, asnDB))
	}

	pipeline.Start()
	defer pipeline.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 优雅退出处理
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Sources.HTTP {
		srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: api.NewServer(pipeline)}
		go func() {
			logger.Log.Infof("事件接收接口监听: %s", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Log.Errorf("HTTP服务启动失败: %v", err)
				sigChan <- syscall.SIGTERM
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Log.Errorf("HTTP服务关闭失败: %v", err)
			}
		}()
	}

	if cfg.Sources.Kafka {
		c, err := consumer.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, pipeline)
		if err != nil {
			logger.Log.Fatal("初始化Kafka消费者失败:", err)
		}
		defer c.Close()
		logger.Log.Info("Kafka消费者初始化成功")

		go func() {
			if err := c.Start(ctx, cfg.Kafka.Topic); err != nil && ctx.Err() == nil {
				logger.Log.Errorf("Kafka消费启动失败: %v", err)
				sigChan <- syscall.SIGTERM
			}
		}()
	}

	if cfg.Sources.CDP {
		client := cdp.NewClient(cfg.CDP.URL, cfg.CDP.TabFilter, pipeline)
		if err := client.Connect(ctx); err != nil {
			logger.Log.Fatal("连接浏览器失败:", err)
		}
		defer client.Close()
	}

	if cfg.Sources.HAR != "" {
		go func() {
			if _, err := har.Replay(ctx, cfg.Sources.HAR, pipeline); err != nil && ctx.Err() == nil {
				logger.Log.Errorf("HAR回放失败: %v", err)
			}
		}()
	}

	logger.Log.Info("服务启动完成，等待事件...")

	// 等待退出信号
	sig := <-sigChan
	logger.Log.Infof("接收到信号 %v, 开始优雅退出", sig)
}
