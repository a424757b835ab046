//go:build e2e

package e2e

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

var (
	buildOnce   sync.Once
	builtBinary string
	buildErr    error
)

// relayBinary builds the inspectrelay binary once and returns its path.
func relayBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		// Find the repo root (parent of e2e/).
		dir, _ := os.Getwd()
		root := filepath.Dir(dir)
		if _, err := os.Stat(filepath.Join(root, "go.mod")); err != nil {
			// Try current dir if we're running from root.
			root = dir
		}
		builtBinary = filepath.Join(root, "bin", "inspectrelay")
		cmd := exec.Command("go", "build", "-o", builtBinary, "./cmd/inspectrelay")
		cmd.Dir = root
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("build: %w\n%s", err, out)
		}
	})
	if buildErr != nil {
		t.Fatalf("build inspectrelay: %v", buildErr)
	}
	return builtBinary
}

// relayProcess is a running inspectrelay with its stderr log and stdout
// traffic lines captured.
type relayProcess struct {
	cmd     *exec.Cmd
	logs    *logBuffer
	traffic *logBuffer

	addr      string // HTTP listen address
	sessionID string
}

// startRelay starts "inspectrelay serve" on a loopback port and waits until
// it is listening.
func startRelay(t *testing.T, extraArgs ...string) *relayProcess {
	t.Helper()
	args := append([]string{"serve", "--bind", "127.0.0.1", "--port", "0", "--no-color"}, extraArgs...)
	cmd := exec.Command(relayBinary(t), args...)
	cmd.Env = os.Environ()

	proc := &relayProcess{cmd: cmd, logs: &logBuffer{}, traffic: &logBuffer{}}
	cmd.Stderr = proc.logs // logs go to stderr
	cmd.Stdout = proc.traffic

	if err := cmd.Start(); err != nil {
		t.Fatalf("start inspectrelay %v: %v", args, err)
	}
	t.Cleanup(func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		cmd.Wait()
	})

	proc.sessionID = waitForLogField(t, proc.logs, "session created", "session", 15*time.Second)
	proc.addr = waitForLogField(t, proc.logs, "relay listening", "addr", 15*time.Second)
	return proc
}

func (p *relayProcess) httpURL(path string) string { return "http://" + p.addr + path }
func (p *relayProcess) wsURL(path string) string   { return "ws://" + p.addr + path }

// logBuffer is a thread-safe buffer that captures output lines and supports
// waiting for specific lines.
type logBuffer struct {
	mu      sync.Mutex
	lines   []string
	partial string // incomplete line from previous Write
	waiters []logWaiter
}

type logWaiter struct {
	substr string
	ch     chan string
}

func (lb *logBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	data := lb.partial + string(p)
	lb.partial = ""

	for {
		i := strings.IndexByte(data, '\n')
		if i == -1 {
			lb.partial = data
			break
		}
		line := data[:i]
		data = data[i+1:]
		lb.lines = append(lb.lines, line)
		remaining := lb.waiters[:0]
		for _, w := range lb.waiters {
			if strings.Contains(line, w.substr) {
				select {
				case w.ch <- line:
				default:
				}
			} else {
				remaining = append(remaining, w)
			}
		}
		lb.waiters = remaining
	}
	return len(p), nil
}

// String returns all captured lines joined with newlines.
func (lb *logBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return strings.Join(lb.lines, "\n")
}

// count returns how many captured lines contain substr.
func (lb *logBuffer) count(substr string) int {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	n := 0
	for _, line := range lb.lines {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

// waitFor blocks until a line containing substr appears, or times out.
func (lb *logBuffer) waitFor(substr string, timeout time.Duration) (string, bool) {
	ch := make(chan string, 1)

	lb.mu.Lock()
	for _, line := range lb.lines {
		if strings.Contains(line, substr) {
			lb.mu.Unlock()
			return line, true
		}
	}
	lb.waiters = append(lb.waiters, logWaiter{substr: substr, ch: ch})
	lb.mu.Unlock()

	select {
	case line := <-ch:
		return line, true
	case <-time.After(timeout):
		lb.mu.Lock()
		for i, w := range lb.waiters {
			if w.ch == ch {
				lb.waiters = append(lb.waiters[:i], lb.waiters[i+1:]...)
				break
			}
		}
		lb.mu.Unlock()
		return "", false
	}
}

// waitForLine waits for a line containing substr.
func waitForLine(t *testing.T, lb *logBuffer, substr string, timeout time.Duration) string {
	t.Helper()
	line, ok := lb.waitFor(substr, timeout)
	if !ok {
		t.Fatalf("timed out waiting for line %q; got:\n%s", substr, lb.String())
	}
	return line
}

// waitForLogField waits for a log line and extracts the value of key=.
func waitForLogField(t *testing.T, lb *logBuffer, substr, key string, timeout time.Duration) string {
	t.Helper()
	line := waitForLine(t, lb, substr, timeout)
	m := regexp.MustCompile(key + `=([^\s]+)`).FindStringSubmatch(line)
	if m == nil {
		t.Fatalf("no %s= in log line: %s", key, line)
	}
	return m[1]
}

func httpGet(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { ws.CloseNow() })
	return ws
}

func writeWS(t *testing.T, ws *websocket.Conn, msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readWS(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

// runExpectFail runs inspectrelay expecting a non-zero exit. Returns stderr output.
func runExpectFail(t *testing.T, timeout time.Duration, args ...string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, relayBinary(t), args...)
	cmd.Env = os.Environ()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = io.Discard

	if err := cmd.Run(); err == nil {
		t.Fatal("expected non-zero exit, but command succeeded")
	}
	return stderr.String()
}

// assertNoUsageDump checks that stderr doesn't contain cobra usage output.
func assertNoUsageDump(t *testing.T, output string) {
	t.Helper()
	if strings.Contains(output, "Usage:") && strings.Contains(output, "Flags:") {
		t.Error("stderr contains cobra usage dump; expected clean error only")
	}
}

// scrapeMetrics fetches the Prometheus metrics text from the given address.
func scrapeMetrics(t *testing.T, addr string) string {
	t.Helper()
	_, body := httpGet(t, "http://"+addr+"/metrics")
	return body
}

// sumMetric sums all sample values for lines matching the metric name (not comments/histograms).
func sumMetric(text, name string) float64 {
	var total float64
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, name+"{") || strings.HasPrefix(line, name+" ") {
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				var v float64
				fmt.Sscanf(parts[len(parts)-1], "%f", &v)
				total += v
			}
		}
	}
	return total
}
