package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/common/config"
	"github.com/t2bot/image-loader/common/logging"
	"github.com/t2bot/image-loader/common/runtime"
	"github.com/t2bot/image-loader/common/version"
	"github.com/t2bot/image-loader/dispatch"
	"github.com/t2bot/image-loader/loader"
	"github.com/t2bot/image-loader/metrics"
	"github.com/t2bot/image-loader/scheduler"
	"github.com/t2bot/image-loader/sources"
	"github.com/t2bot/image-loader/tasks"
)

func main() {
	configPath := flag.String("config", "image-loader.yaml", "The path to the configuration")
	outDir := flag.String("out", "out", "The directory to write loaded images to")
	resourcesDir := flag.String("resources", "", "A directory to serve res: sources from")
	width := flag.Int("width", 0, "Target width in device-independent units, 0 for unconstrained")
	height := flag.Int("height", 0, "Target height in device-independent units, 0 for unconstrained")
	scale := flag.Float64("scale", 1, "Device pixel density")
	prefetch := flag.Bool("prefetch", false, "Only warm the caches, don't write any images")
	stay := flag.Bool("stay", false, "Keep running after loading to serve metrics and reload config until interrupted")
	versionFlag := flag.Bool("version", false, "Prints the version and exits")
	var transformFlags stringList
	flag.Var(&transformFlags, "transform", "A transformation to apply, such as circle or blur:2 (repeatable)")
	flag.Parse()

	if *versionFlag {
		version.Print(false)
		return // exit 0
	}

	// Override config path with config for Docker users
	configEnv := os.Getenv("IMAGE_LOADER_CONFIG")
	if configEnv != "" {
		configPath = &configEnv
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	err = logging.Setup(cfg.General)
	if err != nil {
		panic(err)
	}

	logrus.Info("Starting up...")
	flush := runtime.RunStartupSequence(cfg)
	defer flush()

	transformations, err := parseTransforms(transformFlags)
	if err != nil {
		logrus.Fatal(err)
	}

	factory, err := sources.NewFactory(cfg.Sources, logrus.WithField("component", "sources"))
	if err != nil {
		logrus.Fatal(err)
	}
	if *resourcesDir != "" {
		factory.Register("res", sources.NewResourceResolver(os.DirFS(*resourcesDir)))
	}

	// Targets are only touched from this loop, the way a UI toolkit would own them
	loop := dispatch.NewLoop()
	defer loop.Close()

	svc, err := loader.New(context.Background(), loader.Options{
		Config:     cfg,
		Dispatcher: loop,
		Sources:    factory,
	})
	if err != nil {
		logrus.Fatal(err)
	}

	logrus.Info("Starting recurring tasks...")
	tasks.StartAll(cfg, svc)

	logrus.Info("Starting metrics...")
	metrics.OnBeforeMetricsRequested(svc.RefreshMetrics)
	metrics.Init(cfg.Metrics)

	logrus.Info("Starting config watcher...")
	watcher, err := config.Watch(*configPath, func(c *config.MainConfig) {
		applyConfig(svc, c)
	})
	if err != nil {
		logrus.Warn("Config changes will not be picked up: ", err)
	} else {
		defer watcher.Close()
	}

	stopAll := func() {
		logrus.Info("Stopping metrics...")
		metrics.Stop()

		logrus.Info("Stopping recurring tasks...")
		tasks.StopAll()

		logrus.Info("Stopping loader...")
		if err := svc.Close(); err != nil {
			logrus.Error("Error closing loader: ", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	failed := loadAll(ctx, svc, loop, flag.Args(), loader.Request{
		Transforms: transformations,
		Width:      *width,
		Height:     *height,
		Scale:      *scale,
	}, *outDir, *prefetch)

	if *stay && ctx.Err() == nil {
		logrus.Info("Waiting for stop signal...")
		<-ctx.Done()
		logrus.Warn("Stop signal received")
	}

	stopAll()

	// For debugging
	logrus.Info("Goodbye!")
	if failed > 0 {
		flush()
		os.Exit(1)
	}
}

func loadAll(ctx context.Context, svc *loader.Service, loop *dispatch.Loop, args []string, template loader.Request, outDir string, prefetch bool) int {
	if len(args) == 0 {
		logrus.Info("No sources given")
		return 0
	}

	if prefetch {
		return prefetchAll(ctx, svc, args, template)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		logrus.Error("Error creating output directory: ", err)
		return len(args)
	}

	started := time.Now()
	targets := make([]*fileTarget, len(args))
	waits := make([]*loader.Task, len(args))
	for i, source := range args {
		targets[i] = newFileTarget(outDir, i, source)
		h := svc.NewTarget(targets[i])
		targets[i].handle = h

		req := template
		req.Source = strings.TrimSpace(source)
		waits[i] = svc.LoadInto(h, req, scheduler.PriorityVisible)
	}

	failed := 0
	for i, t := range waits {
		if err := t.Wait(ctx); err != nil {
			logrus.WithField("source", args[i]).Error("Failed to load image: ", err)
			failed++
		}
	}
	loop.Sync()

	for _, target := range targets {
		svc.ReleaseTarget(target.handle)
	}
	logrus.Infof("Loaded %d of %d images in %s", len(args)-failed, len(args), time.Since(started))
	return failed
}

func prefetchAll(ctx context.Context, svc *loader.Service, args []string, template loader.Request) int {
	var failed int
	var mu sync.Mutex
	wg := &sync.WaitGroup{}
	for _, source := range args {
		req := template
		req.Source = strings.TrimSpace(source)
		wg.Add(1)
		go func(req loader.Request) {
			defer wg.Done()
			if _, err := svc.Load(ctx, req, scheduler.PriorityPrefetch); err != nil {
				logrus.WithField("source", req.Source).Error("Failed to prefetch image: ", err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(req)
	}
	wg.Wait()
	return failed
}
