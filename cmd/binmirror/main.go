package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/binary-mirror/internal/application"
	"github.com/eugenenazirov/binary-mirror/internal/config"
	"github.com/eugenenazirov/binary-mirror/internal/logging"
)

var signalNotify = signal.Notify

func main() {
	kingpinApp := kingpin.New("binmirror", "Binary mirror helper - points native-addon installers at a binary mirror")
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	registry := kingpinApp.Flag("registry", "Registry serving the binary-mirror-config document").String()
	region := kingpinApp.Flag("region", "Mirror set to use inside the document").String()
	source := kingpinApp.Flag("source", "Where to read the mirror config from (http, file, s3)").String()
	file := kingpinApp.Flag("file", "Mirror config document for the file source").String()
	s3Bucket := kingpinApp.Flag("s3-bucket", "Bucket holding the mirror config document").String()
	s3Key := kingpinApp.Flag("s3-key", "Object key of the mirror config document").String()
	s3Endpoint := kingpinApp.Flag("s3-endpoint", "Endpoint of an S3-compatible store").String()
	retryCount := kingpinApp.Flag("retry-count", "Fetch attempts before giving up").Default("0").Int()
	retryDelay := kingpinApp.Flag("retry-delay", "Pause between fetch attempts (e.g. 5s, or milliseconds)").String()
	platform := kingpinApp.Flag("platform", "Target GOOS for platform-specific download paths").String()
	logLevel := kingpinApp.Flag("log-level", "Log level (debug, info, warn, error)").String()

	applyCmd := kingpinApp.Command("apply", "Point the packages in the given directories at the binary mirror")
	applyDirs := applyCmd.Arg("dir", "Extracted package directories").Default(".").ExistingDirs()

	envCmd := kingpinApp.Command("env", "Print the mirror environment variables")
	envFormat := envCmd.Flag("format", "Output format").Default(formatShell).Enum(formatShell, formatJSON)

	execCmd := kingpinApp.Command("exec", "Run a command with the mirror environment variables set (use -- before command flags)")
	execName := execCmd.Arg("command", "Command to run").Required().String()
	execArgs := execCmd.Arg("args", "Command arguments").Strings()

	showCmd := kingpinApp.Command("show", "Print the mirror entry of a package, or the mirrored package names")
	showName := showCmd.Arg("name", "Package name").String()

	serveCmd := kingpinApp.Command("serve", "Serve the mirror config over HTTP")
	port := serveCmd.Flag("port", "HTTP port exposed by the service").String()
	rateLimitRPSFlag := serveCmd.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := serveCmd.Flag("rate-limit-burst", "Burst capacity for rate limiter").Default("-1").Int()

	command := kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	overrides := &config.CLIOverrides{
		ConfigFile: *configFile,
		Registry:   registry,
		Region:     region,
		Source:     source,
		File:       file,
		S3Bucket:   s3Bucket,
		S3Key:      s3Key,
		S3Endpoint: s3Endpoint,
		Platform:   platform,
		LogLevel:   logLevel,
		Port:       port,
	}

	if *retryCount > 0 {
		overrides.RetryCount = retryCount
	}

	if *retryDelay != "" {
		delay, err := config.ParseDelay(*retryDelay)
		if err != nil {
			kingpinApp.Fatalf("invalid --retry-delay: %v", err)
		}
		overrides.RetryDelay = &delay
	}

	if *rateLimitRPSFlag >= 0 {
		overrides.RateLimitRPS = rateLimitRPSFlag
	}

	if *rateLimitBurstFlag >= 0 {
		overrides.RateLimitBurst = rateLimitBurstFlag
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		kingpinApp.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		kingpinApp.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mirrors := app.LoadMirrors(ctx)

	switch command {
	case applyCmd.FullCommand():
		err = runApply(app.Patcher(mirrors), *applyDirs, logger)
	case envCmd.FullCommand():
		err = writeEnv(os.Stdout, mirrors.Envs(), *envFormat, logger)
	case execCmd.FullCommand():
		err = runExec(ctx, mirrors, *execName, *execArgs, os.Environ(), stdio{in: os.Stdin, out: os.Stdout, err: os.Stderr})
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			_ = logger.Sync()
			stop()
			os.Exit(exitErr.ExitCode())
		}
	case showCmd.FullCommand():
		err = writeShow(os.Stdout, mirrors, *showName)
	case serveCmd.FullCommand():
		stop()
		app.NewServer(mirrors)
		if err := app.Start(); err != nil {
			logger.Fatal("failed to start server", zap.Error(err))
		}
		shutdown(app.Server(), cfg.ShutdownGracePeriod, logger)
	}

	if err != nil {
		logger.Error("command failed", zap.String("command", command), zap.Error(err))
		_ = logger.Sync()
		stop()
		os.Exit(1)
	}
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
