package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sherlog-detector/internal/alert"
	"sherlog-detector/internal/batch"
	"sherlog-detector/internal/classifier"
	"sherlog-detector/internal/export"
	"sherlog-detector/internal/features"
	"sherlog-detector/internal/metrics"
	"sherlog-detector/internal/model"
	"sherlog-detector/internal/parser"
	"sherlog-detector/internal/pipeline"
	"sherlog-detector/internal/rules"
	"sherlog-detector/internal/utils"

	"github.com/sirupsen/logrus"
)

const version = "1.0.0"

func main() {
	var (
		configFile   = flag.String("config", utils.DefaultConfigFile, "Configuration file path (YAML or JSON)")
		showVersion  = flag.Bool("version", false, "Show version information")
		line         = flag.String("line", "", "Analyze a single log line and print its verdict")
		input        = flag.String("input", "", "Log file to analyze in batch (.gz supported, - for stdin)")
		modelDir     = flag.String("model", "", "Classifier artifact directory (overrides model.dir)")
		rulesFile    = flag.String("rules", "", "Rules file (overrides rules_file)")
		workers      = flag.Int("workers", 0, "Batch workers (overrides application.workers)")
		csvPath      = flag.String("csv", "", "Write the evidence table as CSV (.gz supported)")
		jsonPath     = flag.String("json", "", "Write the full report as JSON (.gz supported)")
		featuresPath = flag.String("features", "", "Dump feature vectors as CSV for training")
		metricsPath  = flag.String("metrics", "", "Write Prometheus metrics to this textfile (- for stdout)")
		s3Bucket     = flag.String("s3-bucket", "", "Upload evidence to this S3 bucket")
		quiet        = flag.Bool("quiet", false, "Do not print the statistics block")
		testTelegram = flag.Bool("test-telegram", false, "Send test message to Telegram")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("Sherlog Detector v%s\n", version)
		return
	}

	config, err := utils.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config %s: %v\n", *configFile, err)
		fmt.Fprintln(os.Stderr, "Using default configuration...")
		config = utils.GetDefaultConfig()
	}
	applyFlags(config, *modelDir, *rulesFile, *workers, *csvPath, *jsonPath, *featuresPath, *metricsPath, *s3Bucket)

	logger, logCloser, err := utils.NewLoggerFromConfig(config.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, logging to stderr\n", err)
	}
	defer logCloser.Close()

	if *testTelegram {
		if err := testTelegramNotification(config, logger); err != nil {
			logger.Errorf("Telegram test failed: %v", err)
			logCloser.Close()
			os.Exit(1)
		}
		fmt.Println("Telegram test message sent")
		return
	}

	if *line == "" && *input == "" {
		fmt.Fprintln(os.Stderr, "Nothing to do: pass -line or -input")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Warn("Interrupted, finishing with a partial report...")
		cancel()
	}()

	m := metrics.NewPrometheusMetrics()
	processor, err := buildProcessor(config, m, logger)
	if err != nil {
		logger.Errorf("Failed to build detector: %v", err)
		os.Exit(1)
	}

	notifier, closeNotifiers, err := buildNotifier(config, logger)
	if err != nil {
		logger.Errorf("Failed to set up alerting: %v", err)
		os.Exit(1)
	}
	defer closeNotifiers()

	var exitCode int
	if *line != "" {
		exitCode = analyzeLine(processor, notifier, *line, logger)
	} else {
		exitCode = analyzeBatch(ctx, config, processor, notifier, m, *input, *quiet, logger)
	}

	if err := writeMetrics(m, config.Export.MetricsPath); err != nil {
		logger.Errorf("%v", err)
		exitCode = 1
	}
	if exitCode != 0 {
		logCloser.Close()
		os.Exit(exitCode)
	}
}

func applyFlags(config *utils.SherlogConfig, modelDir, rulesFile string, workers int, csvPath, jsonPath, featuresPath, metricsPath, s3Bucket string) {
	if modelDir != "" {
		config.Model.Dir = modelDir
	}
	if rulesFile != "" {
		config.RulesFile = rulesFile
	}
	if workers > 0 {
		config.Application.Workers = workers
	}
	if csvPath != "" {
		config.Export.CSVPath = csvPath
	}
	if jsonPath != "" {
		config.Export.JSONPath = jsonPath
	}
	if featuresPath != "" {
		config.Export.FeaturesPath = featuresPath
	}
	if metricsPath != "" {
		config.Export.MetricsPath = metricsPath
	}
	if s3Bucket != "" {
		config.Export.S3.Enabled = true
		config.Export.S3.Bucket = s3Bucket
	}
}

func buildProcessor(config *utils.SherlogConfig, m *metrics.PrometheusMetrics, logger *logrus.Logger) (*pipeline.Processor, error) {
	dialects, err := config.Dialects()
	if err != nil {
		return nil, err
	}
	normalizer := parser.NewNormalizer(dialects, logger)
	normalizer.SetAssumeNow(config.Parser.AssumeNow)

	extractor := features.NewExtractor(features.NewWindowStore(config.WindowConfig()), logger)

	adapter, err := classifier.Load(config.Model.Dir, logger)
	if err != nil {
		logger.Warnf("Classifier disabled: %v", err)
	}

	engine := rules.NewEngine(logger)
	if err := utils.RegisterRulesFromConfig(engine, config, logger); err != nil {
		return nil, err
	}
	logger.Infof("Rule engine ready with %d categories", len(engine.Rules()))

	processor := pipeline.NewProcessor(normalizer, extractor, adapter, engine,
		pipeline.NewMerger(config.MergerConfig()), logger)
	processor.SetMetrics(m)
	return processor, nil
}

func buildNotifier(config *utils.SherlogConfig, logger *logrus.Logger) (alert.Notifier, func(), error) {
	noop := func() {}
	if !config.Alerting.Enabled {
		return nil, noop, nil
	}

	dispatcher := alert.NewDispatcher(config.DispatcherConfig(), logger)
	if config.Alerting.Channels.Log {
		dispatcher.RegisterNotifier(alert.NewLogAlertNotifier(logger))
	}
	if config.Alerting.Channels.Telegram {
		telegram, err := alert.NewTelegramNotifier(config.TelegramConfig(), logger)
		if err != nil {
			return nil, noop, err
		}
		dispatcher.RegisterNotifier(telegram)
	}
	if config.Alerting.Channels.File {
		fileNotifier, err := alert.NewFileAlertNotifier(config.Alerting.FilePath)
		if err != nil {
			return nil, noop, err
		}
		dispatcher.RegisterNotifier(fileNotifier)
		return dispatcher, func() {
			if err := fileNotifier.Close(); err != nil {
				logger.Errorf("Failed to close alert file: %v", err)
			}
		}, nil
	}
	return dispatcher, noop, nil
}

func testTelegramNotification(config *utils.SherlogConfig, logger *logrus.Logger) error {
	tg := config.Alerting.Telegram
	if tg.BotToken == "" || tg.ChatID == "" {
		return fmt.Errorf("alerting.telegram.bot_token and chat_id must be set")
	}
	notifier, err := alert.NewTelegramNotifier(config.TelegramConfig(), logger)
	if err != nil {
		return err
	}
	return notifier.SendTestMessage()
}

func analyzeLine(processor *pipeline.Processor, notifier alert.Notifier, line string, logger *logrus.Logger) int {
	det := processor.Detect(line)
	if det.Verdict.IsAttack && notifier != nil {
		if err := notifier.SendAlert(alert.NewAlert(&det)); err != nil {
			logger.Errorf("Failed to send alert: %v", err)
		}
	}
	if err := export.WriteVerdict(os.Stdout, det.Verdict); err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	return 0
}

func analyzeBatch(ctx context.Context, config *utils.SherlogConfig, processor *pipeline.Processor,
	notifier alert.Notifier, m *metrics.PrometheusMetrics, input string, quiet bool, logger *logrus.Logger) int {
	agg := batch.NewAggregator(processor, config.BatchConfig(), logger)
	agg.SetMetrics(m)
	if notifier != nil {
		agg.SetNotifier(notifier)
	}

	var fw *export.FeatureWriter
	if config.Export.FeaturesPath != "" {
		f, err := os.Create(config.Export.FeaturesPath)
		if err != nil {
			logger.Errorf("Failed to create feature dump: %v", err)
			return 1
		}
		defer f.Close()
		fw = export.NewFeatureWriter(f)
		agg.OnDetection(func(det *model.Detection) {
			if err := fw.Write(det); err != nil {
				logger.Errorf("%v", err)
			}
		})
	}

	var report *model.BatchReport
	var err error
	if input == "-" {
		report, err = agg.Run(ctx, os.Stdin)
	} else {
		report, err = agg.RunFile(ctx, input)
	}
	exitCode := 0
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Batch cancelled, report is partial")
		} else {
			logger.Errorf("Batch failed: %v", err)
			exitCode = 1
		}
		if report == nil {
			return 1
		}
	}

	if !quiet {
		batch.WriteSummary(os.Stdout, report)
	}

	// export failures are reported but never discard the report
	if fw != nil {
		if err := fw.Flush(); err != nil {
			logger.Errorf("Failed to flush feature dump: %v", err)
			exitCode = 1
		} else {
			logger.Infof("Wrote %d feature vectors to %s", fw.Rows(), config.Export.FeaturesPath)
		}
	}
	if path := config.Export.CSVPath; path != "" {
		if err := export.WriteEvidenceCSVFile(path, report.Evidence); err != nil {
			logger.Errorf("%v", err)
			exitCode = 1
		} else {
			logger.Infof("Wrote %d evidence rows to %s", len(report.Evidence), path)
		}
	}
	if path := config.Export.JSONPath; path != "" {
		if err := export.WriteJSONFile(path, report); err != nil {
			logger.Errorf("%v", err)
			exitCode = 1
		}
	}
	if config.Export.S3.Enabled {
		if err := uploadEvidence(ctx, config, report, logger); err != nil {
			logger.Errorf("%v", err)
			exitCode = 1
		}
	}
	return exitCode
}

func uploadEvidence(ctx context.Context, config *utils.SherlogConfig, report *model.BatchReport, logger *logrus.Logger) error {
	// a cancelled batch still ships what it found
	ctx = context.WithoutCancel(ctx)
	uploader, err := export.NewS3Uploader(ctx, config.S3Config(), logger)
	if err != nil {
		return err
	}
	_, err = uploader.UploadEvidence(ctx, report)
	return err
}

func writeMetrics(m *metrics.PrometheusMetrics, path string) error {
	switch path {
	case "":
		return nil
	case "-":
		return m.WriteText(os.Stdout)
	default:
		return m.WriteTextfile(path)
	}
}
