package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/joho/godotenv"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/permits/app/config"
	"github.com/umputun/permits/app/history"
	"github.com/umputun/permits/app/notify"
	"github.com/umputun/permits/app/registry"
	"github.com/umputun/permits/app/store"
	"github.com/umputun/permits/app/watcher"
	"github.com/umputun/permits/app/web"
)

var opts struct {
	Port       int     `short:"p" long:"port" env:"PORT" default:"8080" description:"listening port, binds all interfaces"`
	DataFile   string  `short:"d" long:"data" env:"PERMITS_DATA" description:"board state file (default: status.json next to the binary)"`
	StaticDir  string  `long:"static" env:"PERMITS_STATIC" description:"directory with front-end files, overrides embedded"`
	ConfigFile string  `short:"c" long:"config" env:"PERMITS_CONFIG" description:"plant configuration file (yaml)"`
	Limit      float64 `long:"limit" env:"PERMITS_LIMIT" default:"10" description:"max mutating requests per second per client, 0 to disable"`
	HostName   string  `long:"host" env:"PERMITS_HOST" description:"host name shown in alerts"`
	DumpSchema bool    `long:"dump-schema" description:"print JSON schema of the configuration file and exit"`
	Dbg        bool    `long:"dbg" env:"PERMITS_DEBUG" description:"debug mode"`

	History struct {
		Enabled bool   `long:"enabled" env:"ENABLED" description:"record board events"`
		DB      string `long:"db" env:"DB" default:"permits.db" description:"history database file"`
	} `group:"history" namespace:"history" env-namespace:"PERMITS_HISTORY"`

	Auth struct {
		Hash string `long:"hash" env:"HASH" description:"bcrypt hash of the password for mutating endpoints"`
	} `group:"auth" namespace:"auth" env-namespace:"PERMITS_AUTH"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"filename" env:"FILENAME" default:"permits.log" description:"log file name"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in megabytes"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of rotated files"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max age of rotated files in days"`
		EnabledCompress bool   `long:"compress" env:"COMPRESS" description:"compress rotated files"`
	} `group:"log" namespace:"log" env-namespace:"PERMITS_LOG"`
}

var revision = "unknown"

const defaultDataFile = "status.json"

func main() {
	fmt.Printf("permits %s\n", revision)

	loadEnvFile(cmp.Or(os.Getenv("PERMITS_ENV_FILE"), ".env"))
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}

	if opts.DumpSchema {
		if err := dumpSchema(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "can't dump schema: %v\n", err)
			os.Exit(1)
		}
		return
	}

	setupLogger(setupLogs(), opts.Dbg)

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT, SIGINT and SIGTERM

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

// run wires store, registry, history, notifications, watcher and web server, blocks until ctx canceled
func run(ctx context.Context) error {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return fmt.Errorf("can't load config: %w", err)
	}

	dataPath := dataFile()
	st := store.New(dataPath)

	// interfaces stay nil when history is disabled
	var recorder registry.Recorder
	var historyProvider web.HistoryProvider
	if opts.History.Enabled {
		hist, err := history.NewSQLiteStore(opts.History.DB)
		if err != nil {
			return fmt.Errorf("can't open history: %w", err)
		}
		defer func() {
			if err := hist.Close(); err != nil {
				log.Printf("[WARN] failed to close history: %v", err)
			}
		}()
		recorder, historyProvider = hist, hist
		log.Printf("[INFO] history enabled, %s", opts.History.DB)
	}

	reg := registry.New(st, recorder)

	notifier, err := makeNotifier(cfg)
	if err != nil {
		return fmt.Errorf("can't make notifier: %w", err)
	}

	if cfg.WatcherEnabled() {
		w, err := watcher.New(cfg.Watcher.Spec, reg, notifier)
		if err != nil {
			return fmt.Errorf("can't make watcher: %w", err)
		}
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[WARN] watcher stopped: %v", err)
			}
		}()
	}

	srv, err := web.New(web.Config{
		Registry:     reg,
		History:      historyProvider,
		StaticDir:    opts.StaticDir,
		Reserved:     reservedFiles(st),
		DataDir:      filepath.Dir(dataPath),
		PasswordHash: opts.Auth.Hash,
		Limit:        opts.Limit,
		Plant:        cfg.Plant,
		Version:      revision,
	})
	if err != nil {
		return fmt.Errorf("can't make web server: %w", err)
	}
	log.Printf("[INFO] board state in %s, overdue watcher %v", dataPath, cfg.WatcherEnabled())
	return srv.Run(ctx, fmt.Sprintf(":%d", opts.Port))
}

// dataFile returns the state file location, status.json in the directory of the executable unless set
func dataFile() string {
	if opts.DataFile != "" {
		return opts.DataFile
	}
	exe, err := os.Executable()
	if err != nil {
		log.Printf("[WARN] can't locate executable, state file in working directory: %v", err)
		return defaultDataFile
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), defaultDataFile)
}

// makeNotifier returns nil interface if no destinations configured
func makeNotifier(cfg *config.Config) (watcher.Notifier, error) {
	svc, err := notify.NewService(notify.Params{
		Destinations:  cfg.Notify.Destinations,
		SlackToken:    cfg.Notify.SlackToken,
		TelegramToken: cfg.Notify.TelegramToken,
		SMTP: notify.SMTPParams{
			Host:     cfg.Notify.SMTP.Host,
			Port:     cfg.Notify.SMTP.Port,
			Username: cfg.Notify.SMTP.Username,
			Password: cfg.Notify.SMTP.Password,
			TLS:      cfg.Notify.SMTP.TLS,
			From:     cmp.Or(cfg.Notify.SMTP.From, "permits@"+makeHostName()),
		},
		Timeout:      cfg.Notify.Timeout,
		Retries:      cfg.Notify.Retries,
		RetryDelay:   cfg.Notify.RetryDelay,
		Host:         cmp.Or(cfg.Plant, makeHostName()),
		TemplateFile: cfg.Notify.Template,
	})
	if err != nil {
		return nil, err
	}
	if svc == nil {
		log.Printf("[INFO] no notification destinations, overdue jobs are logged only")
		return nil, nil //nolint:nilnil // notifications are optional
	}
	log.Printf("[INFO] overdue notifications to %s", svc)
	return svc, nil
}

// reservedFiles returns names never served as static files: state files, history db, binary and env file
func reservedFiles(st *store.Store) []string {
	res := st.Files()
	res = append(res, ".env", filepath.Base(os.Args[0]))
	if opts.History.Enabled {
		db := filepath.Base(opts.History.DB)
		res = append(res, db, db+"-wal", db+"-shm")
	}
	return res
}

func makeHostName() string {
	if opts.HostName != "" {
		return opts.HostName
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

func dumpSchema(w io.Writer) error {
	data, err := json.MarshalIndent(config.Schema(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// loadEnvFile sets variables from env file if it exists, already set variables are kept
func loadEnvFile(fname string) {
	if _, err := os.Stat(fname); err != nil {
		return
	}
	if err := godotenv.Load(fname); err != nil {
		fmt.Fprintf(os.Stderr, "can't load %s: %v\n", fname, err)
	}
}

// setupLogs returns log destination, rotated file if enabled
func setupLogs() io.Writer {
	if !opts.Log.Enabled {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   opts.Log.Filename,
		MaxSize:    opts.Log.MaxSize,
		MaxBackups: opts.Log.MaxBackups,
		MaxAge:     opts.Log.MaxAge,
		Compress:   opts.Log.EnabledCompress,
	}
}

func setupLogger(out io.Writer, dbg bool) {
	if dbg {
		log.Setup(log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile, log.Out(out), log.Err(out))
		return
	}
	log.Setup(log.Msec, log.Out(out), log.Err(out))
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			log.Printf("[INFO] %v received, shutting down", sig)
			cancel()
			time.AfterFunc(10*time.Second, func() { os.Exit(1) }) // hard stop if shutdown hangs
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}
