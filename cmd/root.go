package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
	"github.com/jake-scott/iotctl/internal/pkg/config"
	"github.com/jake-scott/iotctl/internal/pkg/dispatch"
	"github.com/jake-scott/iotctl/internal/pkg/logging"
)

type rootOpts struct {
	configFile string
	envFiles   []string

	action       string
	productName  string
	identifier   string
	identifiers  string
	startTime    string
	endTime      string
	timeRange    string
	downSampling string
	limit        string
	aggregate    string
	query        string
	topK         string
	status       string
	keyword      string
	page         string
	pageSize     string
	points       string
	servicePoint string
	pointList    string

	writableOnly bool
	fetchAll     bool
	fullModel    bool
	forceRefresh bool
	dryRun       bool
	confirm      bool

	debug       bool
	quiet       bool
	logRequests bool

	out      io.Writer
	exitCode int
}

var _rootCmdOpts = rootOpts{out: os.Stdout}

var rootCmd = newRootCmd(&_rootCmdOpts, viper.GetViper())

// newRootCmd builds the root command with its flags bound to v
func newRootCmd(opts *rootOpts, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "iotctl [action]",
		Short: "Run one IoT platform action and print the result as JSON",

		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initConfig(opts, v)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.exitCode = doAction(opts, v, args)
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "config file (yaml, json or toml)")
	pf.StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load before ./.env")
	boolFlag(pf, &opts.debug, "debug", "debug logging to stderr")
	errPanic(v.BindPFlag(config.KeyDebug, pf.Lookup("debug")))

	f := cmd.Flags()
	f.StringVar(&opts.action, "action", "", "action to run")
	f.String("productKey", "", "product key, default IOT_DEFAULT_PRODUCT_KEY")
	f.StringVar(&opts.productName, "productName", "", "product name filter for list-products")
	f.String("deviceName", "", "device name, default IOT_DEFAULT_DEVICE_NAME")
	f.StringVar(&opts.identifier, "identifier", "", "property or event identifier")
	f.StringVar(&opts.identifiers, "identifiers", "", "identifiers as a JSON array or comma list")
	f.StringVar(&opts.startTime, "startTime", "", "window start, YYYY-MM-DD HH:mm:ss; with endTime, must not be after it")
	f.StringVar(&opts.endTime, "endTime", "", "window end, YYYY-MM-DD HH:mm:ss; malformed or inverted bounds are INVALID_ARG")
	f.StringVar(&opts.timeRange, "range", "", "relative window: last_1h, last_6h, last_24h or last_7d")
	f.StringVar(&opts.downSampling, "downSampling", "", "history down-sampling interval, eg. 1s or 1m")
	f.StringVar(&opts.limit, "limit", "", "points kept per series (default 200, 0 for all)")
	f.StringVar(&opts.aggregate, "aggregateModes", "", "aggregates: latest,min,max,avg,count, all or none")
	f.StringVar(&opts.query, "query", "", "free text for resolve-intent")
	f.StringVar(&opts.topK, "topK", "", "number of resolve-intent candidates")
	f.StringVar(&opts.status, "status", "", "status filter, eg. ONLINE")
	f.StringVar(&opts.keyword, "keyword", "", "device name keyword filter")
	f.StringVar(&opts.page, "page", "", "page number, from 1")
	f.StringVar(&opts.pageSize, "pageSize", "", "page size, 1 to 100")
	f.StringVar(&opts.points, "points", "", "set-props points as a JSON array of {identifier, value}")
	f.StringVar(&opts.servicePoint, "servicePoint", "", "call-service service as a JSON object")
	f.StringVar(&opts.pointList, "pointList", "", "call-service arguments as a JSON array of {identifier, value}")
	boolFlag(f, &opts.writableOnly, "writableOnly", "only match writable properties")
	boolFlag(f, &opts.fetchAll, "fetchAll", "fetch every device and page locally")
	boolFlag(f, &opts.fullModel, "fullModel", "return the thing model unabridged")
	boolFlag(f, &opts.forceRefresh, "forceRefresh", "bypass the thing model cache")
	boolFlag(f, &opts.dryRun, "dryRun", "validate a write and show its payload without sending it")
	boolFlag(f, &opts.confirm, "confirm", "confirm a sensitive write")

	f.String("base-url", "", "platform base URL")
	f.String("token", "", "platform access token")
	f.String("app-id", "", "application ID for the credential exchange")
	f.String("app-secret", "", "application secret for the credential exchange")
	f.String("cache-dir", "", "thing model cache directory")
	f.String("cache-backend", "", "thing model cache backend: file or badger")
	boolFlag(f, &opts.quiet, "quiet", "only log errors (default true)")
	boolFlag(f, &opts.logRequests, "log-requests", "log platform requests and responses (only in debug mode)")

	errPanic(v.BindPFlag(config.KeyProductKey, f.Lookup("productKey")))
	errPanic(v.BindPFlag(config.KeyDeviceName, f.Lookup("deviceName")))
	errPanic(v.BindPFlag(config.KeyBaseURL, f.Lookup("base-url")))
	errPanic(v.BindPFlag(config.KeyToken, f.Lookup("token")))
	errPanic(v.BindPFlag(config.KeyAppID, f.Lookup("app-id")))
	errPanic(v.BindPFlag(config.KeyAppSecret, f.Lookup("app-secret")))
	errPanic(v.BindPFlag(config.KeyCacheDir, f.Lookup("cache-dir")))
	errPanic(v.BindPFlag(config.KeyCacheBackend, f.Lookup("cache-backend")))
	errPanic(v.BindPFlag(config.KeyQuiet, f.Lookup("quiet")))
	errPanic(v.BindPFlag(config.KeyLogRequests, f.Lookup("log-requests")))

	// Environment lookups are lazy, so binding before any dotenv file is
	// loaded is fine
	errPanic(config.BindEnv(v))

	cmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		opts.exitCode = dispatch.WriteMessage(opts.out, usage()+"\n\n"+cmd.Flags().FlagUsages())
	})
	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return apperror.Wrap(err, apperror.CodeInvalidArg, "%v", err)
	})

	return cmd
}

func initConfig(opts *rootOpts, v *viper.Viper) {
	if err := loadEnvFiles(opts.envFiles); err != nil {
		logging.Logger(nil).WithError(err).Warn("loading env files")
	}

	if opts.configFile != "" {
		v.SetConfigFile(opts.configFile)
		if err := v.ReadInConfig(); err != nil {
			logging.Logger(nil).WithError(err).Warnf("reading config file %s", opts.configFile)
		}
	}

	if config.Bool(v, config.KeyDebug, false) {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if err := logging.Configure(v); err != nil {
		logging.Logger(nil).WithError(err).Warn("configuring logging")
	}
}

// loadEnvFiles never overrides variables already in the environment, so
// the named files win over ./.env, which is read last if it exists
func loadEnvFiles(files []string) error {
	if _, err := os.Stat(".env"); err == nil {
		files = append(files, ".env")
	}
	if len(files) == 0 {
		return nil
	}

	return errors.Wrap(godotenv.Load(files...), "loading dotenv")
}

func request(o *rootOpts, v *viper.Viper, args []string) dispatch.Request {
	action := o.action
	if strings.TrimSpace(action) == "" && len(args) > 0 {
		action = args[0]
	}

	return dispatch.Request{
		Action:         action,
		ProductKey:     v.GetString(config.KeyProductKey),
		ProductName:    o.productName,
		DeviceName:     v.GetString(config.KeyDeviceName),
		Identifier:     o.identifier,
		Identifiers:    o.identifiers,
		StartTime:      o.startTime,
		EndTime:        o.endTime,
		Range:          o.timeRange,
		DownSampling:   o.downSampling,
		Limit:          o.limit,
		AggregateModes: o.aggregate,
		Query:          o.query,
		TopK:           o.topK,
		WritableOnly:   o.writableOnly,
		Status:         o.status,
		Keyword:        o.keyword,
		Page:           o.page,
		PageSize:       o.pageSize,
		FetchAll:       o.fetchAll,
		Points:         o.points,
		ServicePoint:   o.servicePoint,
		PointList:      o.pointList,
		FullModel:      o.fullModel,
		ForceRefresh:   o.forceRefresh,
		DryRun:         o.dryRun,
		Confirm:        o.confirm,
	}
}

func doAction(opts *rootOpts, v *viper.Viper, args []string) int {
	req := request(opts, v, args)

	settings, err := config.Resolve(v)
	if err != nil {
		return dispatch.WriteFailure(opts.out, strings.ToLower(strings.TrimSpace(req.Action)), err)
	}

	logging.SetQuiet(settings.Quiet)
	logging.EnableAudit(settings.StructuredLog)

	// ctrl-c cancels the in-flight platform call
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return dispatch.New(settings, opts.out).WithUsage(usage()).Run(ctx, req)
}

// execute runs cmd with args and returns the exit code.  Errors cobra
// reports before an action runs, such as unknown flags, still produce a
// JSON envelope.
func execute(cmd *cobra.Command, opts *rootOpts, args []string) int {
	cmd.SetArgs(normalizeBoolArgs(args, boolFlagNames(cmd)))
	if err := cmd.Execute(); err != nil {
		return dispatch.WriteFailure(opts.out, "", err)
	}
	return opts.exitCode
}

// Execute runs the root command and exits
func Execute() {
	os.Exit(execute(rootCmd, &_rootCmdOpts, os.Args[1:]))
}
