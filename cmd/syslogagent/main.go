// Command syslogagent runs the event-log forwarding agent: it opens one
// subscription per configured channel, normalizes delivered events to
// JSON, queues them, and drains the queue(s) to whichever collector
// sinks are enabled, persisting a bookmark per channel so a restart
// resumes rather than replays or loses events.
package main

import (
	"context"
	"encoding/xml"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/aaronmbuhr/syslogagent/internal/batcher"
	"github.com/aaronmbuhr/syslogagent/internal/bookmark"
	"github.com/aaronmbuhr/syslogagent/internal/config"
	"github.com/aaronmbuhr/syslogagent/internal/eventrecord"
	"github.com/aaronmbuhr/syslogagent/internal/observability"
	"github.com/aaronmbuhr/syslogagent/internal/platform"
	"github.com/aaronmbuhr/syslogagent/internal/pool"
	"github.com/aaronmbuhr/syslogagent/internal/queue"
	"github.com/aaronmbuhr/syslogagent/internal/sender"
	"github.com/aaronmbuhr/syslogagent/internal/sink"
	"github.com/aaronmbuhr/syslogagent/internal/subscription"
	"github.com/aaronmbuhr/syslogagent/internal/tailwatcher"
	"github.com/aaronmbuhr/syslogagent/internal/tlsmaterial"
	"github.com/aaronmbuhr/syslogagent/internal/watchdog"
)

const version = "1.0.0"

// batchBufSize bounds one posted batch's wire size.
const batchBufSize = 256 * 1024

// queueCapacity bounds how many messages one sink's queue holds.
const queueCapacity = 10000

// maxRecordBytes bounds a single rendered event record, matching the
// pool buffer size records are eventually copied into.
const maxRecordBytes = 4096

func main() {
	configPath := flag.String("config", "", "path to a key=value config file")
	observAddr := flag.String("observ-addr", "127.0.0.1:8081", "metrics/health server address")
	console := flag.Bool("console", false, "treat stdout as an interactive terminal (logs a console-mode notice at startup)")
	flag.Parse()

	interactive := *console || term.IsTerminal(int(os.Stdout.Fd()))

	logger := observability.NewLogger("syslogagent", version, os.Stdout)
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker(version)

	if interactive {
		logger.Debug("console mode: attached to an interactive terminal")
	}

	if shutdown, err := observability.InitTracing(context.Background(), "syslogagent"); err == nil {
		defer shutdown(context.Background())
	}

	logger.Info("syslogagent starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal(err, "failed to load config")
	}
	logger.Info("configuration loaded")

	store, err := config.OpenBookmarkStore(cfg)
	if err != nil {
		logger.Fatal(err, "failed to open bookmark store")
	}
	defer store.Close()

	healthChecker.RegisterCheck("bookmark_store", observability.BookmarkStoreCheck(cfg.BookmarkBackend, func() error {
		_, err := store.ReadBookmark("__healthcheck__")
		if err == bookmark.ErrChannelNotFound {
			return nil
		}
		return err
	}))

	wd := watchdog.New(5*time.Second, func(name string) {
		logger.WatchdogFailed(name, time.Now())
		metrics.RecordWatchdogFailure(name)
		logger.Fatal(fmt.Errorf("heart %q went stale", name), "watchdog fatal: terminating for supervisor restart")
	})
	wd.Register("primary-sender", 30*time.Second)
	wd.Register("secondary-sender", 30*time.Second)
	wd.Register("event-source", cfg.PollInterval*6)
	wd.Start()
	defer wd.Stop()
	healthChecker.RegisterCheck("primary_sender_heartbeat", observability.WatchdogCheck("primary-sender", wd.IsFailed))
	healthChecker.RegisterCheck("event_source_heartbeat", observability.WatchdogCheck("event-source", wd.IsFailed))

	p := pool.New(4096, 256, 20)
	primaryQueue := queue.New(p, queueCapacity)
	secondaryQueue := queue.New(p, queueCapacity)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := platform.NewFakeSource()
	subs := openChannelSubscriptions(cfg, source, store, primaryQueue, secondaryQueue, logger, metrics, wd.Heart("event-source"))
	defer func() {
		for _, s := range subs {
			s.sub.Cancel()
			source.CloseSubscription(s.handle)
		}
	}()

	// Bookmarks commit only after a batch containing their events has
	// actually been posted (commit-after-success, subscription.Subscription.
	// Commit's documented contract), not at delivery time. Every opened
	// channel feeds every enabled queue identically, so any successful
	// post on either route is grounds to advance every channel's bookmark.
	commitAll := func() {
		for _, s := range subs {
			if err := s.sub.Commit(); err == nil {
				metrics.RecordBookmarkCommit(s.sub.Channel)
			}
		}
	}

	routes := buildRoutes(cfg, primaryQueue, secondaryQueue, logger, metrics, wd, commitAll)
	for _, r := range routes {
		loop := sender.NewLoop(r.route, r.beater, batchBufSize)
		go loop.Run(ctx)
	}

	if cfg.TailFilePath != "" {
		tw := tailwatcher.New(cfg.TailFilePath, cfg.TailProgramName, tailLineHandler(cfg, primaryQueue, secondaryQueue, logger, metrics), 2*time.Second)
		if err := tw.Start(); err != nil {
			logger.Error(err, "failed to start tail watcher")
		} else {
			defer tw.Stop()
		}
	}

	go startObservabilityServer(*observAddr, metrics, healthChecker, logger)

	logger.Info("syslogagent running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	primaryQueue.BeginShutdown()
	secondaryQueue.BeginShutdown()
	cancel()
	logger.Info("syslogagent stopped")
}

type routeHandle struct {
	route  sender.Route
	beater sender.Beater
}

func buildRoutes(cfg *config.Config, primaryQueue, secondaryQueue *queue.Queue, logger *observability.Logger, metrics *observability.Metrics, wd *watchdog.Watchdog, commit sender.Committer) []routeHandle {
	var routes []routeHandle

	if cfg.Primary.Enabled {
		s, framing, err := buildSink(cfg.Primary, cfg)
		if err != nil {
			logger.Error(err, "failed to build primary sink")
		} else {
			routes = append(routes, routeHandle{
				route: sender.Route{
					Name:      "primary",
					Sink:      s,
					Queue:     primaryQueue,
					Framing:   framing,
					Commit:    commit,
					KeepAlive: cfg.Primary.KeepAlive,
					OnFatal:   func() bool { logger.SinkFatalAuth("primary", "credentials rejected", false); return false },
				},
				beater: wd.Heart("primary-sender"),
			})
		}
	}
	if cfg.Secondary.Enabled {
		s, framing, err := buildSink(cfg.Secondary, cfg)
		if err != nil {
			logger.Error(err, "failed to build secondary sink")
		} else {
			routes = append(routes, routeHandle{
				route: sender.Route{
					Name:      "secondary",
					Sink:      s,
					Queue:     secondaryQueue,
					Framing:   framing,
					Commit:    commit,
					KeepAlive: cfg.Secondary.KeepAlive,
					OnFatal:   func() bool { logger.SinkFatalAuth("secondary", "credentials rejected", true); return true },
				},
				beater: wd.Heart("secondary-sender"),
			})
		}
	}
	return routes
}

// buildSink builds a concrete sink.Sink from a SinkConfig. An endpoint
// containing "://" is treated as an HTTP(S) collector URL (HTTPJSONArray
// framing); anything else is treated as host[:port] for the raw-JSON TCP
// sink (NewlineDelimited framing).
func buildSink(sc config.SinkConfig, cfg *config.Config) (sink.Sink, batcher.Framing, error) {
	if looksLikeURL(sc.Endpoint) {
		var loader *tlsmaterial.Loader
		if sc.TLS && cfg.TLSMaterialPath != "" {
			loader = &tlsmaterial.Loader{Path: cfg.TLSMaterialPath, Password: cfg.TLSMaterialPassword}
		}
		httpCfg := sink.HTTPConfig{
			Endpoint:  sc.Endpoint,
			Token:     sc.Token,
			KeepAlive: sc.KeepAlive,
		}
		if loader != nil {
			tc, err := loader.Load()
			if err != nil {
				return nil, batcher.Framing{}, err
			}
			httpCfg.TLSConfig = tc
		} else if sc.TLS {
			httpCfg.TLSConfig = tlsmaterial.LoadSystemTrust(0)
		}
		s, err := sink.NewHTTPSink(httpCfg)
		return s, batcher.HTTPJSONArray, err
	}

	host, portStr := splitHostPort(sc.Endpoint)
	port, _ := strconv.Atoi(portStr)
	tcpCfg := sink.TCPConfig{Host: host, Port: port, KeepAlive: sc.KeepAlive}
	if sc.TLS && cfg.TLSMaterialPath != "" {
		loader := &tlsmaterial.Loader{Path: cfg.TLSMaterialPath, Password: cfg.TLSMaterialPassword}
		tc, err := loader.Load()
		if err != nil {
			return nil, batcher.Framing{}, err
		}
		tcpCfg.TLSConfig = tc
	} else if sc.TLS {
		tcpCfg.TLSConfig = tlsmaterial.LoadSystemTrust(0)
	}
	s, err := sink.NewTCPSink(tcpCfg)
	return s, batcher.NewlineDelimited, err
}

func looksLikeURL(endpoint string) bool {
	for i := 0; i+2 < len(endpoint); i++ {
		if endpoint[i] == ':' && endpoint[i+1] == '/' && endpoint[i+2] == '/' {
			return true
		}
	}
	return false
}

func splitHostPort(endpoint string) (host, port string) {
	for i := len(endpoint) - 1; i >= 0; i-- {
		if endpoint[i] == ':' {
			return endpoint[:i], endpoint[i+1:]
		}
	}
	return endpoint, ""
}

type openSub struct {
	sub    *subscription.Subscription
	handle platform.SubscriptionHandle
}

func openChannelSubscriptions(cfg *config.Config, source platform.Source, store bookmark.Store, primaryQueue, secondaryQueue *queue.Queue, logger *observability.Logger, metrics *observability.Metrics, beater sender.Beater) []openSub {
	var opened []openSub

	for _, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		channel := ch

		handler := func(eventXML []byte) bool {
			beater.Beat()
			ev, eventID, ok := decodeEventXML(eventXML, channel.Name)
			if !ok {
				return false
			}
			if !cfg.EventIDs.Allows(eventID) {
				return true // filtered out, but not a delivery failure
			}

			accepted := false
			if cfg.Primary.Enabled {
				if enqueueRecord(primaryQueue, ev, cfg, eventrecord.HTTPFraming) {
					accepted = true
					metrics.RecordEnqueued("primary", channel.Name, primaryQueue.Length())
				} else {
					metrics.RecordDropped("queue_full")
				}
			}
			if cfg.Secondary.Enabled {
				if enqueueRecord(secondaryQueue, ev, cfg, eventrecord.TCPFraming) {
					accepted = true
					metrics.RecordEnqueued("secondary", channel.Name, secondaryQueue.Length())
				} else {
					metrics.RecordDropped("queue_full")
				}
			}
			if !cfg.Primary.Enabled && !cfg.Secondary.Enabled {
				return false
			}
			return accepted
		}

		sub := subscription.New(channel.Name, channel.Query, store, handler)
		token, fromOldest, err := sub.Subscribe()
		if err != nil {
			logger.Error(err, "failed to subscribe to channel "+channel.Name)
			continue
		}

		cursor, err := source.CreateBookmark(token)
		if err != nil {
			logger.Error(err, "failed to create bookmark for channel "+channel.Name)
			continue
		}

		callback := func(eh platform.EventHandle) {
			xmlBytes, err := source.RenderEventXML(eh)
			if err != nil {
				return
			}
			source.UpdateBookmark(cursor, eh)
			newToken, _ := source.RenderBookmark(cursor)
			// In-memory cursor only; persistence is deferred to commitAll,
			// invoked by the sender loop once a batch containing this event
			// has actually been posted (commit-after-success).
			sub.Deliver(xmlBytes, newToken)
		}

		handle, err := source.OpenSubscription(channel.Name, channel.Query, cursor, fromOldest, callback)
		if err != nil {
			logger.Error(err, "failed to open subscription for channel "+channel.Name)
			continue
		}
		logger.SubscriptionOpened(channel.Name, channel.Query, fromOldest)
		opened = append(opened, openSub{sub: sub, handle: handle})
	}
	return opened
}

// platformEventXML mirrors the minimal event schema this repository's
// platform.Source implementations render (see internal/platform's
// FakeSource.RenderEventXML); a future real Source would render the
// operating system's native schema instead, which this struct would need
// to grow to match.
type platformEventXML struct {
	XMLName xml.Name `xml:"Event"`
	System  struct {
		Provider struct {
			Name string `xml:"Name,attr"`
		} `xml:"Provider"`
		EventID int    `xml:"EventID"`
		Level   string `xml:"Level"`
	} `xml:"System"`
	EventData struct {
		Message string `xml:"Message"`
	} `xml:"EventData"`
}

func decodeEventXML(data []byte, channel string) (eventrecord.Event, int, bool) {
	var parsed platformEventXML
	if err := xml.Unmarshal(data, &parsed); err != nil {
		return eventrecord.Event{}, 0, false
	}
	ev := eventrecord.Event{
		Provider:     parsed.System.Provider.Name,
		EventID:      strconv.Itoa(parsed.System.EventID),
		Message:      parsed.EventData.Message,
		EventLogName: channel,
		Timestamp:    time.Now(),
		Severity:     eventrecord.SeverityFromPlatformLevel(parsed.System.Level),
	}
	return ev, parsed.System.EventID, true
}

func enqueueRecord(q *queue.Queue, ev eventrecord.Event, cfg *config.Config, framing eventrecord.Framing) bool {
	opts := eventrecord.Options{
		Host:       cfg.HostOverride,
		Facility:   facilityNumber(cfg.Facility),
		SourceType: "syslogagent",
		SourceTag:  ev.Provider,
		LogType:    ev.EventLogName,
		Framing:    framing,
	}
	data, _, ok := eventrecord.Render(ev, opts, maxRecordBytes)
	if !ok {
		return false
	}
	return eventrecord.EnqueueDroppingOldest(q, data)
}

func facilityNumber(name string) int {
	switch name {
	case "local0":
		return 16
	case "local1":
		return 17
	case "local2":
		return 18
	case "local3":
		return 19
	case "local4":
		return 20
	case "local5":
		return 21
	case "local6":
		return 22
	case "local7":
		return 23
	default:
		return 16
	}
}

func tailLineHandler(cfg *config.Config, primaryQueue, secondaryQueue *queue.Queue, logger *observability.Logger, metrics *observability.Metrics) tailwatcher.LineFunc {
	return func(programName, line string) {
		ev := eventrecord.Event{
			Provider:     programName,
			EventID:      "0",
			Message:      line,
			EventLogName: "tail:" + programName,
			Timestamp:    time.Now(),
			Severity:     eventrecord.SeverityNotice,
		}
		if cfg.Primary.Enabled {
			if enqueueRecord(primaryQueue, ev, cfg, eventrecord.HTTPFraming) {
				metrics.RecordEnqueued("primary", ev.EventLogName, primaryQueue.Length())
			} else {
				metrics.RecordDropped("queue_full")
			}
		}
		if cfg.Secondary.Enabled {
			if enqueueRecord(secondaryQueue, ev, cfg, eventrecord.TCPFraming) {
				metrics.RecordEnqueued("secondary", ev.EventLogName, secondaryQueue.Length())
			} else {
				metrics.RecordDropped("queue_full")
			}
		}
	}
}

func startObservabilityServer(addr string, metrics *observability.Metrics, health *observability.HealthChecker, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", health.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	server := &http.Server{Addr: addr, Handler: mux}
	logger.Info(fmt.Sprintf("observability server listening on %s", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "observability server error")
	}
}
