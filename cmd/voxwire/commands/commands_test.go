package commands

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCmd(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	verbose = false
	serveConfigPath = "voxwire.yaml"
	checkConfigPath = "voxwire.yaml"

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	wOut.Close()
	wErr.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	var outBuf, errBuf bytes.Buffer
	outBuf.ReadFrom(rOut)
	errBuf.ReadFrom(rErr)

	stdout = outBuf.String()
	stderr = errBuf.String()
	if err != nil {
		exitCode = 1
	}
	return stdout, stderr, exitCode
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxwire.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// localEndpoint serves TCP accepts on a loopback port, standing in for a
// provider endpoint.
func localEndpoint(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return "http://" + ln.Addr().String()
}

func TestVersion(t *testing.T) {
	stdout, _, code := runCmd(t, "version")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "voxwire") {
		t.Fatalf("expected 'voxwire', got: %s", stdout)
	}
}

func TestCheck_AllPass(t *testing.T) {
	endpoint := localEndpoint(t)
	t.Setenv("OPENAI_API_KEY", "test-key")
	path := writeConfigFile(t, fmt.Sprintf(`
queue:
  backend: memory
providers:
  asr:
    name: openai
    base_url: %[1]s
  gen:
    name: openai
    base_url: %[1]s
  tts:
    name: openai
    base_url: %[1]s
`, endpoint))

	stdout, _, code := runCmd(t, "check", "--config", path)
	if code != 0 {
		t.Fatalf("exit %d, output:\n%s", code, stdout)
	}
	if !strings.Contains(stdout, "checks passed") {
		t.Fatalf("expected pass summary, got:\n%s", stdout)
	}
}

func TestCheck_MissingAPIKey(t *testing.T) {
	endpoint := localEndpoint(t)
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfigFile(t, fmt.Sprintf(`
queue:
  backend: memory
providers:
  asr:
    base_url: %[1]s
  gen:
    base_url: %[1]s
  tts:
    base_url: %[1]s
`, endpoint))

	stdout, _, code := runCmd(t, "check", "--config", path)
	if code == 0 {
		t.Fatalf("check passed without API keys:\n%s", stdout)
	}
	if !strings.Contains(stdout, "OPENAI_API_KEY is not set") {
		t.Fatalf("expected missing-key failure, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "checks failed") {
		t.Fatalf("expected fail summary, got:\n%s", stdout)
	}
}

func TestCheck_MissingConfig(t *testing.T) {
	stdout, _, code := runCmd(t, "check", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	if code == 0 {
		t.Fatal("check passed with a missing config file")
	}
	if !strings.Contains(stdout, "config") {
		t.Fatalf("expected config failure in report, got:\n%s", stdout)
	}
}

func TestServe_InvalidConfig(t *testing.T) {
	path := writeConfigFile(t, "queue:\n  backend: kafka\n")
	_, _, code := runCmd(t, "serve", "--config", path)
	if code == 0 {
		t.Fatal("serve accepted an invalid config")
	}
}

func TestServe_MissingConfig(t *testing.T) {
	_, _, code := runCmd(t, "serve", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	if code == 0 {
		t.Fatal("serve started without a config file")
	}
}
