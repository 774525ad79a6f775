// Package worker implements the bdg worker process: it owns the CDP
// WebSocket to one Chrome page target, runs the telemetry collectors, and
// answers the daemon's peek/details/cdp_call requests over stdio (spec
// §4.2-§4.4, §4.6 "Worker" row, §4.7).
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bdgtool/bdg/internal/browser"
	"github.com/bdgtool/bdg/internal/cdpconn"
	"github.com/bdgtool/bdg/internal/ipc"
	"github.com/bdgtool/bdg/internal/session"
	"github.com/bdgtool/bdg/internal/telemetry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// errChromeLost is returned by watchChromeLoss's errgroup task when the
// CDPConnection gives up reconnecting for good, distinguishing that path
// from the ordinary "shutdown requested" one (both cancel the same
// errgroup context).
var errChromeLost = fmt.Errorf("chrome connection lost: reconnect attempts exhausted")

// readyLineType is the ad hoc first line a worker writes to stdout once
// collection is underway, distinct from the ordinary "<cmd>_response"
// envelopes that follow it (spec §4.6: "Worker emits worker_ready JSON
// line on stdout with its PID and Chrome PID").
const readyLineType = "worker_ready"

// readyPayload is folded into an ipc.Envelope's Params (its
// UnmarshalJSON/MarshalJSON already treat unrecognized top-level fields
// as params) so the daemon can read it with the same framing it uses for
// command responses.
type readyPayload struct {
	PID                  int      `json:"pid"`
	ChromePID            int      `json:"chromePid"`
	Port                 int      `json:"port"`
	TargetID             string   `json:"targetId"`
	WebSocketDebuggerURL string   `json:"webSocketDebuggerUrl"`
	TargetURL            string   `json:"targetUrl"`
	ActiveTelemetry      []string `json:"activeTelemetry"`
}

// defaultTelemetry is what's active when the start_session request leaves
// Telemetry empty.
var defaultTelemetry = []string{"network", "console", "dom"}

// chromeLossPollInterval bounds how quickly a permanently disconnected
// CDP connection (all cdpconn reconnect attempts exhausted) is noticed
// and turned into an abnormal-shutdown session.json.
const chromeLossPollInterval = 2 * time.Second

// navigateTimeout bounds the initial Page.navigate call.
const navigateTimeout = 30 * time.Second

// attachProbeTimeout bounds the check for an already-running Chrome on
// the requested port before the worker launches its own.
const attachProbeTimeout = 300 * time.Millisecond

// Run reads one JSON line from stdin (an ipc.StartSessionParams object,
// the one-shot config handoff from the daemon per spec §4.6), drives one
// collection session to completion, and returns the process exit code: 0
// on graceful stop, non-zero if the session ended abnormally (Chrome
// lost) or could not start at all. The same stdin reader is reused
// afterward for the ordinary daemon->worker command stream, since both
// share one pipe.
func Run(ctx context.Context) int {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	in := ipc.NewFrameReader(os.Stdin)
	line, err := in.ReadFrame()
	if err != nil {
		log.WithError(err).Error("worker: failed to read session config")
		return 1
	}
	var cfg ipc.StartSessionParams
	if err := json.Unmarshal(line, &cfg); err != nil {
		log.WithError(err).Error("worker: invalid session config")
		return 1
	}

	w := &worker{cfg: cfg, log: log, in: in}
	return w.run(ctx)
}

type worker struct {
	cfg ipc.StartSessionParams
	log *logrus.Logger

	conn    *cdpconn.Connection
	network *telemetry.NetworkCollector
	console *telemetry.ConsoleCollector
	nav     *NavigationTracker

	chromePID int
	targetID  string
	wsURL     string
	port      int

	in  *ipc.FrameReader
	out *ipc.FrameWriter
}

func (w *worker) run(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	telemetryKinds := w.cfg.Telemetry
	if len(telemetryKinds) == 0 {
		telemetryKinds = defaultTelemetry
	}
	wantNetwork := containsStr(telemetryKinds, "network")
	wantConsole := containsStr(telemetryKinds, "console")
	wantDOM := containsStr(telemetryKinds, "dom")

	port := w.cfg.Port
	if port == 0 {
		port = browser.DefaultPort
	}
	w.port = port

	pageTarget, chromePID, closeChrome, err := setupChrome(ctx, port, w.cfg.Headless, w.cfg.UserDataDir)
	if err != nil {
		w.log.WithError(err).Error("worker: chrome start failed")
		return 1
	}
	defer closeChrome()
	w.chromePID = chromePID
	w.log.WithFields(logrus.Fields{"port": port, "chromePid": chromePID}).Info("worker: chrome ready")

	target, err := pageTarget(ctx)
	if err != nil {
		w.log.WithError(err).Error("worker: no page target")
		return 1
	}
	w.targetID = target.ID
	w.wsURL = target.WebSocketURL

	dial := func(dctx context.Context) (string, error) {
		t, err := pageTarget(dctx)
		if err != nil {
			return "", err
		}
		return t.WebSocketURL, nil
	}

	w.conn = cdpconn.New(dial, w.onReconnect, func(format string, args ...any) {
		w.log.Infof(format, args...)
	})
	if err := w.conn.Connect(ctx); err != nil {
		w.log.WithError(err).Error("worker: cdp connect failed")
		return 1
	}

	// Page domain is needed for both navigation tracking and, later, the
	// DOM snapshot; enabling it is idempotent so it's safe to do eagerly.
	if _, err := w.conn.Send(ctx, "Page.enable", nil); err != nil {
		w.log.WithError(err).Warn("worker: Page.enable failed")
	}
	w.nav = NewNavigationTracker(w.onNavigation)
	navHandler := w.conn.Subscribe("Page.frameNavigated", w.nav.HandleFrameNavigated)
	defer w.conn.Unsubscribe("Page.frameNavigated", navHandler)

	if wantNetwork {
		w.network = telemetry.NewNetworkCollector(w.conn, "", telemetry.NetworkConfig{
			IncludeAll:      w.cfg.IncludeAll,
			IncludePatterns: w.cfg.IncludePatterns,
			ExcludePatterns: w.cfg.ExcludePatterns,
			FetchAllBodies:  w.cfg.FetchAllBodies,
			MaxBodySize:     w.cfg.MaxBodySize,
		})
		if err := w.network.Enable(ctx); err != nil {
			w.log.WithError(err).Warn("worker: Network.enable failed")
		}
		defer w.network.Cleanup()
	}
	if wantConsole {
		w.console = telemetry.NewConsoleCollector(w.conn, "", telemetry.ConsoleConfig{
			IncludeAll: w.cfg.IncludeAll,
			OnCapReached: func() {
				w.log.Warn("worker: console message cap reached, further messages dropped")
			},
		})
		if err := w.console.Enable(ctx); err != nil {
			w.log.WithError(err).Warn("worker: Runtime/Log enable failed")
		}
		defer w.console.Cleanup()
	}

	if w.cfg.URL != "" {
		nctx, ncancel := context.WithTimeout(ctx, navigateTimeout)
		_, err := w.conn.Send(nctx, "Page.navigate", map[string]any{"url": w.cfg.URL})
		ncancel()
		if err != nil {
			w.log.WithError(err).Error("worker: navigation failed")
		}
	}

	if err := w.writeMetadata(telemetryKinds); err != nil {
		w.log.WithError(err).Error("worker: write session.meta.json failed")
	}

	w.out = ipc.NewFrameWriter(os.Stdout)
	if err := w.announceReady(telemetryKinds); err != nil {
		w.log.WithError(err).Error("worker: failed to write worker_ready line")
		return 1
	}

	var netSrc func() []telemetry.NetworkRequest
	var conSrc func() []telemetry.ConsoleMessage
	if w.network != nil {
		netSrc = w.network.Output
	}
	if w.console != nil {
		conSrc = w.console.Output
	}
	start := time.Now()
	preview := NewPreviewWriter(session.PreviewPath(), DefaultPreviewSize, session.Target{URL: w.cfg.URL}, start,
		netSrc, conSrc, func(err error) { w.log.WithError(err).Warn("worker: preview write failed") })

	handler := newCommandHandler(w.network, w.console, w.conn)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sig)

	// The preview writer, the chrome-loss poller, and the stdio command
	// loop are the worker's three concurrent subsystems (spec §5); an
	// errgroup ties their shutdown together through one shared context
	// instead of hand-rolled done channels for each.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		preview.Run(gctx, DefaultPreviewInterval)
		return nil
	})
	g.Go(func() error { return w.watchChromeLoss(gctx) })
	g.Go(func() error { return w.serveCommands(gctx, handler) })

	select {
	case <-sig:
		w.log.Info("worker: received shutdown signal")
	case <-gctx.Done():
		// Either watchChromeLoss observed a permanent disconnect and
		// returned errChromeLost (cancelling gctx), or the parent
		// context was cancelled out-of-band.
	}

	cancel()
	groupErr := g.Wait()

	if errors.Is(groupErr, errChromeLost) {
		w.log.Error("worker: chrome connection lost permanently")
		return w.abnormalShutdown(start, groupErr.Error())
	}
	return w.gracefulShutdown(context.Background(), start, wantDOM)
}

func (w *worker) onReconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if w.network != nil {
		if err := w.network.Enable(ctx); err != nil {
			w.log.WithError(err).Warn("worker: re-enable Network after reconnect failed")
		}
	}
	if w.console != nil {
		if err := w.console.Enable(ctx); err != nil {
			w.log.WithError(err).Warn("worker: re-enable Runtime/Log after reconnect failed")
		}
	}
}

func (w *worker) onNavigation(id int, url string) {
	if w.network != nil {
		w.network.SetNavigationID(id)
	}
}

// watchChromeLoss polls the CDP connection's health state and returns
// errChromeLost once it observes a permanent disconnect, cancelling the
// errgroup's shared context so the other two subsystems wind down too.
func (w *worker) watchChromeLoss(ctx context.Context) error {
	ticker := time.NewTicker(chromeLossPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if w.conn.State() == cdpconn.StateDisconnected {
				return errChromeLost
			}
		}
	}
}

// serveCommands reads daemon->worker requests off stdin until the pipe
// closes (daemon gone), which is treated as an ordinary shutdown request,
// not an error, hence the nil return. ReadFrame is a blocking read with
// no ctx awareness of its own; that's fine here because this only ever
// runs as its own errgroup goroutine, and the process-wide shutdown path
// closes stdin's underlying pipe rather than relying on ctx to unblock it.
func (w *worker) serveCommands(ctx context.Context, handler *commandHandler) error {
	for {
		line, err := w.in.ReadFrame()
		if err != nil {
			return nil
		}
		if len(line) == 0 {
			continue
		}
		var req ipc.Envelope
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}
		resp := handler.Handle(ctx, req)
		if err := w.out.WriteEnvelope(resp); err != nil {
			return nil
		}
	}
}

func (w *worker) writeMetadata(activeTelemetry []string) error {
	m := session.Metadata{
		ChromePID:            w.chromePID,
		StartTime:            time.Now().UnixMilli(),
		Port:                 w.port,
		TargetID:             w.targetID,
		WebSocketDebuggerURL: w.wsURL,
		ActiveTelemetry:      activeTelemetry,
	}
	existing, ok, err := session.ReadMetadata(session.MetaPath())
	if err == nil && ok {
		m.DaemonPID = existing.DaemonPID
		if existing.StartTime != 0 {
			m.StartTime = existing.StartTime
		}
	}
	m.WorkerPID = os.Getpid()
	return session.WriteMetadata(session.MetaPath(), m)
}

func (w *worker) announceReady(activeTelemetry []string) error {
	payload := readyPayload{
		PID:                  os.Getpid(),
		ChromePID:            w.chromePID,
		Port:                 w.port,
		TargetID:             w.targetID,
		WebSocketDebuggerURL: w.wsURL,
		TargetURL:            w.cfg.URL,
		ActiveTelemetry:      activeTelemetry,
	}
	env := ipc.Envelope{Type: readyLineType}.WithParams(payload)
	return w.out.WriteEnvelope(env)
}

// gracefulShutdown implements spec §4.6's graceful worker shutdown
// sequence: capture the DOM snapshot while the CDP socket is still open,
// read the collectors' output, write session.json, and close the
// connection. The collectors are unsubscribed and cleared only afterwards,
// by run's deferred Cleanup calls, so clearing never erases the output
// being assembled.
func (w *worker) gracefulShutdown(ctx context.Context, start time.Time, wantDOM bool) int {
	var dom *telemetry.DOMData
	if wantDOM {
		d := telemetry.CaptureDOM(ctx, w.conn, "", func(step string, err error) {
			w.log.WithError(err).Warnf("worker: DOM snapshot step %s failed", step)
		})
		dom = &d
	}

	data := session.Data{DOM: dom}
	if w.network != nil {
		data.Network = w.network.Output()
	}
	if w.console != nil {
		data.Console = w.console.Output()
	}

	target := session.Target{URL: w.cfg.URL}
	if dom != nil {
		if dom.URL != "" {
			target.URL = dom.URL
		}
		target.Title = dom.Title
	}

	out := session.NewOutput(target, data, true, start, time.Now())
	if err := session.WriteOutput(session.OutputPath(), out); err != nil {
		w.log.WithError(err).Error("worker: write session.json failed")
	}

	_ = w.conn.Close()
	return 0
}

// abnormalShutdown implements spec §4.6's Chrome-loss path: skip the DOM
// snapshot, mark the output partial/unsuccessful, and exit non-zero.
func (w *worker) abnormalShutdown(start time.Time, reason string) int {
	data := session.Data{}
	if w.network != nil {
		data.Network = w.network.Output()
	}
	if w.console != nil {
		data.Console = w.console.Output()
	}

	out := session.NewOutput(session.Target{URL: w.cfg.URL}, data, false, start, time.Now()).
		WithError(reason).
		WithPartial()
	if err := session.WriteOutput(session.OutputPath(), out); err != nil {
		w.log.WithError(err).Error("worker: write session.json failed")
	}

	_ = w.conn.Close()
	return 1
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// setupChrome launches a fresh Chrome unless one is already listening on
// port, in which case the worker attaches to it directly (spec §1/§2:
// "launches (or attaches to) a Chrome instance"). Attaching means the
// worker never owns the process, so its Chrome PID is unknown (left 0 in
// session metadata) and closeChrome is a no-op.
func setupChrome(ctx context.Context, port int, headless bool, userDataDir string) (pageTarget func(context.Context) (*browser.Target, error), chromePID int, closeChrome func() error, err error) {
	probeCtx, cancel := context.WithTimeout(ctx, attachProbeTimeout)
	_, verr := browser.FetchVersion(probeCtx, "127.0.0.1", port)
	cancel()
	if verr == nil {
		pageTarget = func(c context.Context) (*browser.Target, error) {
			targets, err := browser.FetchTargets(c, "127.0.0.1", port)
			if err != nil {
				return nil, err
			}
			t := browser.FindPageTarget(targets)
			if t == nil {
				return nil, browser.ErrNoPageTarget
			}
			return t, nil
		}
		return pageTarget, 0, func() error { return nil }, nil
	}

	b, err := browser.Start(browser.LaunchOptions{Port: port, Headless: headless, UserDataDir: userDataDir})
	if err != nil {
		return nil, 0, nil, fmt.Errorf("start chrome: %w", err)
	}
	return b.PageTarget, b.PID(), b.Close, nil
}
