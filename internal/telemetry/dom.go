package telemetry

import (
	"context"
	"encoding/json"
	"time"
)

// domCallTimeout is the per-call timeout for each query round trip in
// CaptureDOM (spec §4.4). The Page.enable and DOM.enable calls use the
// caller's ctx as given.
const domCallTimeout = 5 * time.Second

// CaptureDOM takes the single best-effort DOM snapshot performed exactly
// once at graceful shutdown. It enables Page and DOM (idempotent) and logs
// individual step failures via onErr rather than failing the whole
// snapshot — its absence must never fail the session.
func CaptureDOM(ctx context.Context, conn CDPConn, sessionID string, onErr func(step string, err error)) DOMData {
	if onErr == nil {
		onErr = func(string, error) {}
	}

	if _, err := conn.SendToSession(ctx, sessionID, "Page.enable", nil); err != nil {
		onErr("Page.enable", err)
	}
	if _, err := conn.SendToSession(ctx, sessionID, "DOM.enable", nil); err != nil {
		onErr("DOM.enable", err)
	}

	var data DOMData

	nodeID, err := getDocumentRoot(ctx, conn, sessionID)
	if err != nil {
		onErr("DOM.getDocument", err)
	} else if html, err := getOuterHTML(ctx, conn, sessionID, nodeID); err != nil {
		onErr("DOM.getOuterHTML", err)
	} else {
		data.OuterHTML = html
	}

	if url, err := getFrameURL(ctx, conn, sessionID); err != nil {
		onErr("Page.getFrameTree", err)
	} else {
		data.URL = url
	}

	title, err := getTitle(ctx, conn, sessionID)
	if err != nil {
		onErr("Runtime.evaluate(document.title)", err)
		title = "Untitled"
	}
	data.Title = title

	return data
}

func callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, domCallTimeout)
}

func getDocumentRoot(ctx context.Context, conn CDPConn, sessionID string) (int64, error) {
	cctx, cancel := callCtx(ctx)
	defer cancel()

	result, err := conn.SendToSession(cctx, sessionID, "DOM.getDocument", map[string]any{"depth": -1})
	if err != nil {
		return 0, err
	}
	var resp struct {
		Root struct {
			NodeID int64 `json:"nodeId"`
		} `json:"root"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return 0, err
	}
	return resp.Root.NodeID, nil
}

func getOuterHTML(ctx context.Context, conn CDPConn, sessionID string, nodeID int64) (string, error) {
	cctx, cancel := callCtx(ctx)
	defer cancel()

	result, err := conn.SendToSession(cctx, sessionID, "DOM.getOuterHTML", map[string]any{"nodeId": nodeID})
	if err != nil {
		return "", err
	}
	var resp struct {
		OuterHTML string `json:"outerHTML"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", err
	}
	return resp.OuterHTML, nil
}

func getFrameURL(ctx context.Context, conn CDPConn, sessionID string) (string, error) {
	cctx, cancel := callCtx(ctx)
	defer cancel()

	result, err := conn.SendToSession(cctx, sessionID, "Page.getFrameTree", nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		FrameTree struct {
			Frame struct {
				URL string `json:"url"`
			} `json:"frame"`
		} `json:"frameTree"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", err
	}
	return resp.FrameTree.Frame.URL, nil
}

func getTitle(ctx context.Context, conn CDPConn, sessionID string) (string, error) {
	cctx, cancel := callCtx(ctx)
	defer cancel()

	result, err := conn.SendToSession(cctx, sessionID, "Runtime.evaluate", map[string]any{
		"expression":    "document.title",
		"returnByValue": true,
	})
	if err != nil {
		return "", err
	}
	var resp struct {
		Result struct {
			Value string `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", err
	}
	if resp.ExceptionDetails != nil {
		return "", &domEvalError{resp.ExceptionDetails.Text}
	}
	return resp.Result.Value, nil
}

type domEvalError struct{ msg string }

func (e *domEvalError) Error() string { return e.msg }
