package daemon_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/cartwatch/cartwatch/cmd/cartwatch/daemon"
	"github.com/cartwatch/cartwatch/internal/constants"
	"github.com/cartwatch/cartwatch/internal/webservice"
	"github.com/cartwatch/cartwatch/internal/webservice/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigArg(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "conf.yaml")
	content := "Verbosity: 1\nDaemon:\n  ReadTimeout: 2s\n  ListenPort: 9090\nDBconfig:\n  Table: carts\n"
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600), "Setup: couldn't write config file")

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version", "--config", configPath)

	err = a.Run()
	require.NoError(t, err, "Run should not return an error")

	got := a.Config()
	assert.Equal(t, 1, got.Verbosity, "Verbosity should be read from the config file")
	assert.Equal(t, 2*time.Second, got.Daemon.ReadTimeout, "Durations should be decoded from strings")
	assert.Equal(t, 9090, got.Daemon.ListenPort, "Listen port should be read from the config file")
	assert.Equal(t, "carts", got.DBconfig.Table, "Table should be read from the config file")
	assert.Equal(t, 10*time.Second, got.Daemon.WriteTimeout, "Flag defaults should be kept for unset keys")
}

func TestConfigEnv(t *testing.T) {
	t.Setenv("CARTWATCH_DAEMON_READTIMEOUT", "1s")
	t.Setenv("CARTWATCH_DBCONFIG_PASSWORD", "s3cr3t")

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version")

	err = a.Run()
	require.NoError(t, err, "Run should not return an error")
	assert.Equal(t, time.Second, a.Config().Daemon.ReadTimeout, "Read timeout should be read from the environment")
	assert.Equal(t, "s3cr3t", a.Config().DBconfig.Password, "Password should be read from the environment")
}

func TestConfigDotEnv(t *testing.T) {
	const key = "CARTWATCH_DBCONFIG_USER"
	// Registers the restoration of the variable, which .env loading sets directly.
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key), "Setup: could not unset environment variable")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(key+"=cartwatch_writer\n"), 0600),
		"Setup: couldn't write env file")
	t.Chdir(dir)

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version")

	require.NoError(t, a.Run(), "Run should not return an error")
	assert.Equal(t, "cartwatch_writer", a.Config().DBconfig.User, "User should be read from the env file")
}

func TestConfigBadArg(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "conf.yaml")

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version", "--config", configPath)

	err = a.Run()
	require.Error(t, err, "Run should return an error")
}

func TestBadConfigReturnsError(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "conf.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("Daemon: [not, a, map"), 0600), "Setup: couldn't write config file")

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	// Use version to still run preExec to load the config but without running server
	a.SetArgs("version", "--config", configPath)

	err = a.Run()
	require.Error(t, err, "Run should return an error on config file")
}

func TestDaeConfigBadPathErrors(t *testing.T) {
	conf := &daemon.AppConfig{
		Daemon: webservice.StaticConfig{
			ConfigPath: "/does/not/exist.yaml",
		},
	}
	a := daemon.NewForTests(t, conf)

	chErr := make(chan error, 1)
	go func() {
		chErr <- a.Run()
	}()
	a.WaitReady()

	select {
	case err := <-chErr:
		require.Error(t, err, "Run should return with an error")
	case <-time.After(5 * time.Second):
		a.Quit()
		require.Fail(t, "Run should return with an error")
	}
}

func TestServeWithoutDatabaseCredential(t *testing.T) {
	a, wait := startDaemon(t, nil)
	defer wait()
	defer a.Quit()

	resp, err := http.Post("http://"+a.Addr()+constants.CartEventPath, "application/json",
		strings.NewReader(`{"email": "jane@example.com"}`))
	require.NoError(t, err, "Request should be sent")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, "Events should be rejected without database credential")
	var got handlers.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got), "Response should be valid JSON")
	assert.Equal(t, handlers.StatusConfigError, got.Status, "Response should report a configuration error")
}

func TestNoUsageError(t *testing.T) {
	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("completion", "bash")

	err = a.Run()
	require.NoError(t, err, "Run should not return an error")

	isUsageError := a.UsageError()
	require.False(t, isUsageError, "No usage error is reported as such")
}

func TestUsageError(t *testing.T) {
	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("doesnotexist")

	err = a.Run()
	require.Error(t, err, "Run should return an error")
	isUsageError := a.UsageError()
	require.True(t, isUsageError, "Usage error is reported as such")

	// Test when SilenceUsage is true
	a.SetSilenceUsage(true)
	assert.False(t, a.UsageError())

	// Test when SilenceUsage is false
	a.SetSilenceUsage(false)
	assert.True(t, a.UsageError())
}

func TestAppCanSigHupAfterExecute(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping Hup test on Windows")
	}
	r, w, err := os.Pipe()
	require.NoError(t, err, "Setup: pipe shouldn't fail")

	a, wait := startDaemon(t, nil)
	a.Quit()
	wait()

	orig := os.Stdout
	os.Stdout = w

	a.Hup()

	os.Stdout = orig
	w.Close()

	var out bytes.Buffer
	_, err = io.Copy(&out, r)
	require.NoError(t, err, "Couldn't copy stdout to buffer")
	require.NotEmpty(t, out.String(), "Stacktrace is printed")
}

func TestRootCmd(t *testing.T) {
	app, err := daemon.New()
	require.NoError(t, err)

	cmd := app.RootCmd()

	assert.NotNil(t, cmd, "Returned root cmd should not be nil")
	assert.Equal(t, constants.CmdName, cmd.Name())
}

// startDaemon prepares and starts the daemon in the background. The done function should be called
// to wait for the daemon to stop.
//
// The done function should be called in the main goroutine for the test.
func startDaemon(t *testing.T, conf *daemon.AppConfig) (app *daemon.App, done func()) {
	t.Helper()

	a := daemon.NewForTests(t, conf)

	chErr := make(chan error, 1)
	go func() {
		chErr <- a.Run()
	}()
	a.WaitReady()
	require.Eventually(t, func() bool {
		return !strings.HasSuffix(a.Addr(), ":0")
	}, 5*time.Second, 10*time.Millisecond, "Setup: daemon did not listen in time")

	return a, func() {
		err := <-chErr
		require.NoError(t, err, "Run should return without an error")
	}
}
