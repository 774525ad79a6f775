package daemon

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// exec.Cmd's internal goroutine exits asynchronously with cmd.Wait();
		// workerProc tests that kill a still-running fake worker can observe
		// this goroutine briefly outlive the test.
		goleak.IgnoreAnyFunction("os/exec.(*Cmd).Start.func2"),
	)
}
