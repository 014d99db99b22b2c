package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/any-hub/image-cache/internal/cache"
	"github.com/any-hub/image-cache/internal/config"
	"github.com/any-hub/image-cache/internal/imagecache"
	"github.com/any-hub/image-cache/internal/logging"
	"github.com/any-hub/image-cache/internal/proxy"
	"github.com/any-hub/image-cache/internal/registry"
	"github.com/any-hub/image-cache/internal/server"
	"github.com/any-hub/image-cache/internal/server/routes"
	"github.com/any-hub/image-cache/internal/version"
)

const (
	commandHelp    = "help"
	commandServe   = "serve"
	commandCheck   = "check-config"
	commandClear   = "clear"
	commandResolve = "resolve"
	commandVersion = "version"
)

// cliOptions 汇总 CLI 解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath string
	command    string
	sources    []string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	switch opts.command {
	case commandHelp:
		return 0
	case commandVersion:
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.command == commandCheck {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["base_dir"] = cfg.Global.BaseDir()
		fields["warmup_sources"] = len(cfg.Warmup.Sources)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动遵循“配置 → 磁盘缓存 → 登记表 → 图片缓存”顺序，
	// 保证所有消费者共享同一个缓存目录与 in-flight 表。
	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}

	ctx := context.Background()
	switch opts.command {
	case commandClear:
		if err := rt.cache.ClearAll(ctx); err != nil {
			fmt.Fprintf(stdErr, "清空缓存失败: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdOut, "cleared %s\n", rt.cache.BaseDir())
		return 0
	case commandResolve:
		return resolveSources(ctx, rt, opts.sources, cfg.Warmup.Concurrency)
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["base_dir"] = cfg.Global.BaseDir()
	fields["listen_port"] = cfg.Global.ListenPort
	fields["clean_on_startup"] = cfg.Global.CleanOnStartup
	fields["file_prefix"] = cfg.Global.EffectiveFilePrefix()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if cfg.Global.CleanOnStartup {
		// 清理失败只记录日志，服务仍可继续使用现有目录。
		_ = rt.cache.ClearAll(ctx)
	}
	if len(cfg.Warmup.Sources) > 0 {
		go warmSources(ctx, rt, cfg.Warmup, logger)
	}

	if err := startHTTPServer(cfg, rt, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	var (
		opts       cliOptions
		configFlag string
	)

	selectCommand := func(name string) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, args []string) error {
			opts.command = name
			opts.sources = args
			return nil
		}
	}

	root := &cobra.Command{
		Use:               "image-cache",
		Short:             "Content-addressed image cache and proxy",
		SilenceErrors:     true,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		Args:              cobra.NoArgs,
		RunE:              selectCommand(commandServe),
	}
	root.SetOut(stdOut)
	root.SetErr(stdErr)
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 IMAGE_CACHE_CONFIG 覆盖）")

	root.AddCommand(
		&cobra.Command{
			Use:   commandServe,
			Short: "启动图片代理 HTTP 服务（默认）",
			Args:  cobra.NoArgs,
			RunE:  selectCommand(commandServe),
		},
		&cobra.Command{
			Use:   commandCheck,
			Short: "仅校验配置后退出",
			Args:  cobra.NoArgs,
			RunE:  selectCommand(commandCheck),
		},
		&cobra.Command{
			Use:   commandClear,
			Short: "删除并重建缓存目录",
			Args:  cobra.NoArgs,
			RunE:  selectCommand(commandClear),
		},
		&cobra.Command{
			Use:   commandResolve + " <url>...",
			Short: "拉取一个或多个图片地址到缓存目录",
			Args:  cobra.MinimumNArgs(1),
			RunE:  selectCommand(commandResolve),
		},
		&cobra.Command{
			Use:   commandVersion,
			Short: "显示版本信息",
			Args:  cobra.NoArgs,
			RunE:  selectCommand(commandVersion),
		},
	)

	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if opts.command == "" {
		// --help 已由 cobra 输出。
		opts.command = commandHelp
	}
	opts.configPath = resolveConfigPath(configFlag)
	return opts, nil
}

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}

func resolveConfigPath(flagValue string) string {
	path := os.Getenv("IMAGE_CACHE_CONFIG")
	if flagValue != "" {
		path = flagValue
	}
	if path == "" {
		path = "config.toml"
	}
	return path
}

// runtimeDeps 是 serve/clear/resolve 共用的缓存组件。
type runtimeDeps struct {
	registry *registry.Registry
	cache    *imagecache.Cache
}

func buildRuntime(cfg *config.Config, logger *logrus.Logger) (*runtimeDeps, error) {
	store, err := cache.NewStore(cfg.Global.BaseDir())
	if err != nil {
		return nil, err
	}
	reg := registry.New()
	imgCache, err := imagecache.New(imagecache.Options{
		Store:              store,
		Fetcher:            imagecache.NewHTTPFetcher(server.NewUpstreamClient(cfg), store),
		Logger:             logger,
		OnResolved:         reg.Set,
		OnInvalidate:       reg.Clean,
		RequiresFilePrefix: cfg.Global.RequiresFilePrefix,
		FilePrefix:         cfg.Global.FilePrefix,
		VerifyBeforeFetch:  cfg.Global.VerifyBeforeFetch,
	})
	if err != nil {
		return nil, err
	}
	return &runtimeDeps{registry: reg, cache: imgCache}, nil
}

// resolveSources 输出每个地址的解析结局，任一失败时返回非零退出码。
func resolveSources(ctx context.Context, rt *runtimeDeps, sources []string, concurrency int) int {
	code := 0
	for _, item := range rt.cache.Warm(ctx, sources, concurrency) {
		if item.Err != nil {
			code = 1
			fmt.Fprintf(stdErr, "%s\t%s\t%v\n", item.Status, item.Source, item.Err)
			continue
		}
		fmt.Fprintf(stdOut, "%s\t%s\t%s\n", item.Status, item.Source, item.URI)
	}
	return code
}

func warmSources(ctx context.Context, rt *runtimeDeps, warmup config.WarmupConfig, logger *logrus.Logger) {
	failed := 0
	for _, item := range rt.cache.Warm(ctx, warmup.Sources, warmup.Concurrency) {
		if item.Err != nil {
			failed++
		}
	}
	logger.WithFields(logrus.Fields{
		"action":    "image_warm",
		"requested": len(warmup.Sources),
		"failed":    failed,
	}).Info("启动预热完成")
}

func startHTTPServer(cfg *config.Config, rt *runtimeDeps, logger *logrus.Logger) error {
	handler, err := proxy.NewHandler(proxy.HandlerOptions{
		Cache:          rt.cache,
		Registry:       rt.registry,
		Logger:         logger,
		MaxRetries:     cfg.Global.MaxRetries,
		InitialBackoff: cfg.Global.InitialBackoff.DurationValue(),
		WaitTimeout:    cfg.Global.UpstreamTimeout.DurationValue(),
	})
	if err != nil {
		return err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger: logger,
		Images: handler,
	})
	if err != nil {
		return err
	}
	routes.RegisterImageRoutes(app, routes.ImageDeps{
		Cache:           rt.cache,
		Registry:        rt.registry,
		Logger:          logger,
		WarmConcurrency: cfg.Warmup.Concurrency,
	})

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
