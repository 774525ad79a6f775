package daemon

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/bdgtool/bdg/internal/ipc"
)

// startFakeWorkerProc spawns a tiny shell script standing in for a real
// `bdg __worker` child: it reads (and discards) the one-shot config line,
// announces worker_ready, then echoes every subsequent JSONL line back
// verbatim — enough to exercise workerProc's readLoop/send correlation
// without a real Chrome-driving worker.
func startFakeWorkerProc(t *testing.T, script string) *workerProc {
	t.Helper()

	cmd := exec.Command("sh", "-c", script)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatalf("stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("stdout pipe: %v", err)
	}
	stderr := newBoundedBuffer(4096)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("start fake worker: %v", err)
	}

	wp := &workerProc{
		cmd:     cmd,
		fw:      ipc.NewFrameWriter(stdin),
		fr:      ipc.NewFrameReader(stdout),
		pending: make(map[string]chan ipc.Envelope),
		readyCh: make(chan workerReady, 1),
		doneCh:  make(chan struct{}),
		stderr:  stderr,
	}

	if _, err := stdin.Write([]byte("{}\n")); err != nil {
		t.Fatalf("write config line: %v", err)
	}

	go wp.readLoop()
	go func() {
		wp.exitErr = cmd.Wait()
		close(wp.doneCh)
	}()

	t.Cleanup(func() {
		wp.kill()
		<-wp.doneCh
	})

	return wp
}

const echoWorkerScript = `read _cfg
printf '{"type":"worker_ready","pid":111,"chromePid":222,"port":9222}\n'
while IFS= read -r line; do
  printf '%s\n' "$line"
done
`

func TestWorkerProc_WaitReady(t *testing.T) {
	wp := startFakeWorkerProc(t, echoWorkerScript)

	ready, err := wp.waitReady(5 * time.Second)
	if err != nil {
		t.Fatalf("waitReady: %v", err)
	}
	if ready.PID != 111 || ready.ChromePID != 222 || ready.Port != 9222 {
		t.Errorf("waitReady = %+v, want pid=111 chromePid=222 port=9222", ready)
	}
	if wp.exited() {
		t.Error("worker should still be running after announcing ready")
	}
}

func TestWorkerProc_SendCorrelatesByRequestID(t *testing.T) {
	wp := startFakeWorkerProc(t, echoWorkerScript)

	if _, err := wp.waitReady(5 * time.Second); err != nil {
		t.Fatalf("waitReady: %v", err)
	}

	req := ipc.Envelope{Type: ipc.RequestType(ipc.CmdPeek), RequestID: "req-1"}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := wp.send(ctx, req)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.RequestID != "req-1" {
		t.Errorf("resp.RequestID = %q, want req-1", resp.RequestID)
	}

	// A second request, sent after the first was answered, must not be
	// confused with the first.
	req2 := ipc.Envelope{Type: ipc.RequestType(ipc.CmdDetails), RequestID: "req-2"}
	resp2, err := wp.send(ctx, req2)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if resp2.RequestID != "req-2" {
		t.Errorf("resp2.RequestID = %q, want req-2", resp2.RequestID)
	}
}

func TestWorkerProc_SendTimesOutWhenWorkerNeverResponds(t *testing.T) {
	// This worker announces ready but never reads another line, so any
	// send() against it must time out via ctx rather than hang forever.
	wp := startFakeWorkerProc(t, `read _cfg
printf '{"type":"worker_ready","pid":1,"chromePid":1,"port":9222}\n'
sleep 30
`)

	if _, err := wp.waitReady(5 * time.Second); err != nil {
		t.Fatalf("waitReady: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := wp.send(ctx, ipc.Envelope{Type: ipc.RequestType(ipc.CmdPeek), RequestID: "req-1"})
	if err == nil {
		t.Fatal("expected send to time out, got nil error")
	}

	wp.mu.Lock()
	_, stillPending := wp.pending["req-1"]
	wp.mu.Unlock()
	if stillPending {
		t.Error("timed-out request should be removed from the pending table")
	}
}

func TestWorkerProc_WaitReady_ExitsBeforeReady(t *testing.T) {
	wp := startFakeWorkerProc(t, `read _cfg
exit 1
`)

	_, err := wp.waitReady(5 * time.Second)
	if err == nil {
		t.Fatal("expected waitReady to fail when worker exits before announcing ready")
	}
	if !wp.exited() {
		t.Error("expected exited() to report true")
	}
}

func TestWorkerProc_ExitedAndWaitExit(t *testing.T) {
	wp := startFakeWorkerProc(t, `read _cfg
printf '{"type":"worker_ready","pid":1,"chromePid":1,"port":9222}\n'
exit 0
`)

	if _, err := wp.waitReady(5 * time.Second); err != nil {
		t.Fatalf("waitReady: %v", err)
	}

	if !wp.waitExit(5 * time.Second) {
		t.Fatal("expected waitExit to observe the process exit")
	}
	if !wp.exited() {
		t.Error("expected exited() to report true after waitExit succeeds")
	}
}

func TestWorkerProc_Kill(t *testing.T) {
	wp := startFakeWorkerProc(t, `read _cfg
printf '{"type":"worker_ready","pid":1,"chromePid":1,"port":9222}\n'
sleep 30
`)

	if _, err := wp.waitReady(5 * time.Second); err != nil {
		t.Fatalf("waitReady: %v", err)
	}

	wp.kill()
	if !wp.waitExit(5 * time.Second) {
		t.Fatal("expected killed worker to exit")
	}
}

func TestWorkerProc_Pid(t *testing.T) {
	wp := startFakeWorkerProc(t, echoWorkerScript)
	if wp.pid() == 0 {
		t.Error("expected non-zero pid for a running process")
	}
}
