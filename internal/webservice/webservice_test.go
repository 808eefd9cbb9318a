package webservice_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cartwatch/cartwatch/internal/config"
	"github.com/cartwatch/cartwatch/internal/constants"
	"github.com/cartwatch/cartwatch/internal/database"
	"github.com/cartwatch/cartwatch/internal/event"
	"github.com/cartwatch/cartwatch/internal/event/models"
	opsmetrics "github.com/cartwatch/cartwatch/internal/metrics"
	"github.com/cartwatch/cartwatch/internal/webservice"
	"github.com/cartwatch/cartwatch/internal/webservice/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var defaultDaemonConfig = webservice.StaticConfig{
	ReadTimeout:    5 * time.Second,
	WriteTimeout:   10 * time.Second,
	RequestTimeout: 3 * time.Second,
	MaxHeaderBytes: 1 << 13, // 8 KB
	MaxBodyBytes:   1 << 10, // 1 KB

	ListenHost: "127.0.0.1",
	Metrics: opsmetrics.Config{
		Host:         "127.0.0.1",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	},
}

var _ webservice.DConfigManager = testConfigManager{}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cmLoadErr error

		wantErr bool
	}{
		"Empty valid": {},

		// Error cases
		"ConfigManager load error errors": {
			cmLoadErr: assert.AnError,
			wantErr:   true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, err := webservice.New(t.Context(), testConfigManager{loadErr: tc.cmLoadErr}, &mockStore{}, defaultDaemonConfig)
			if tc.wantErr {
				require.Error(t, err, "New should return an error")
				assert.Nil(t, s, "Server should be nil on error")
				return
			}
			require.NoError(t, err, "New should not return an error")
			require.NotNil(t, s, "Server should not be nil")

			h := s.HTTPServer()
			assert.Equal(t, defaultDaemonConfig.ReadTimeout, h.ReadTimeout, "Read timeout should be set")
			assert.Equal(t, defaultDaemonConfig.WriteTimeout, h.WriteTimeout, "Write timeout should be set")
			assert.Equal(t, defaultDaemonConfig.MaxHeaderBytes, h.MaxHeaderBytes, "Max header bytes should be set")
		})
	}
}

func TestServeMulti(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	s := createServerAndWaitReady(t, testConfigManager{}, store, defaultDaemonConfig, false)

	tests := map[string]struct {
		method string
		path   string
		body   string

		wantCode   int
		wantStatus string
	}{
		"Version": {
			method:   http.MethodGet,
			path:     "/version",
			wantCode: http.StatusOK,
		},
		"Valid cart event is stored": {
			body:       `{"email": "jane@example.com", "rclastcart": "cart-42"}`,
			wantCode:   http.StatusOK,
			wantStatus: handlers.StatusOK,
		},
		"Corrupted cart event is stored": {
			body:       `{"carttag": "{"sku":"X"}", "email": "jane@example.com"}`,
			wantCode:   http.StatusOK,
			wantStatus: handlers.StatusOK,
		},

		// Bad requests
		"Malformed cart event is a client error": {
			body:       `{"email": `,
			wantCode:   http.StatusBadRequest,
			wantStatus: handlers.StatusJSONError,
		},
		"Too large cart event is rejected": {
			body:       `{"notes": "` + strings.Repeat("a", 2048) + `"}`,
			wantCode:   http.StatusRequestEntityTooLarge,
			wantStatus: handlers.StatusRejected,
		},
		"Bad method is not allowed": {
			method:   http.MethodGet,
			wantCode: http.StatusMethodNotAllowed,
		},
		"Bad path is not found": {
			path:     "/events/unknown",
			wantCode: http.StatusNotFound,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if tc.method == "" {
				tc.method = http.MethodPost
			}
			if tc.path == "" {
				tc.path = constants.CartEventPath
			}

			code, body := send(t, tc.method, "http://"+s.Addr()+tc.path, tc.body)
			require.Equal(t, tc.wantCode, code, "Unexpected status code, body: %s", body)
			if tc.wantStatus == "" {
				return
			}
			var got handlers.Response
			require.NoError(t, json.Unmarshal([]byte(body), &got), "Response should be valid JSON")
			assert.Equal(t, tc.wantStatus, got.Status, "Unexpected response status")
		})
	}
}

func TestMetricsServer(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		readyErr error

		wantHealth int
	}{
		"Healthy when events can be stored": {wantHealth: http.StatusOK},
		"Unhealthy without database credential": {
			readyErr:   database.ErrMissingCredential,
			wantHealth: http.StatusServiceUnavailable,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := createServerAndWaitReady(t, testConfigManager{}, &mockStore{readyErr: tc.readyErr}, defaultDaemonConfig, false)

			postCode, _ := send(t, http.MethodPost, "http://"+s.Addr()+constants.CartEventPath, `{"email": "jane@example.com"}`)
			require.NotZero(t, postCode, "Setup: request should be answered")

			code, _ := send(t, http.MethodGet, "http://"+s.MetricsAddr()+"/healthz", "")
			assert.Equal(t, tc.wantHealth, code, "Unexpected health status")

			code, body := send(t, http.MethodGet, "http://"+s.MetricsAddr()+"/metrics", "")
			require.Equal(t, http.StatusOK, code, "Metrics should be served")
			assert.Contains(t, body, "cartwatch_events_total", "Event outcomes should be exposed")
			assert.Contains(t, body, fmt.Sprintf(`cartwatch_http_requests_total{code="%d",method="post",route="cart_event"} 1`, postCode),
				"Route requests should be exposed")
			assert.Contains(t, body, fmt.Sprintf(`cartwatch_http_server_requests_total{code="%d",method="post"} 1`, postCode),
				"Server requests should be exposed")
			assert.Contains(t, body, "go_goroutines", "Runtime metrics should be exposed")
		})
	}
}

func TestServeWithConfigManager(t *testing.T) {
	t.Parallel()

	dConf := defaultDaemonConfig
	dConf.ConfigPath = webservice.GenerateTestDaemonConfig(t, &config.Conf{DirtyFields: []string{}})
	cm := config.New(dConf.ConfigPath)
	store := &mockStore{}

	s := createServerAndWaitReady(t, cm, store, dConf, false)

	code, _ := send(t, http.MethodPost, "http://"+s.Addr()+constants.CartEventPath, `{"carttag": "{"sku":"X"}", "email": "jane@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, code, "Payload should not be repaired when repair is disabled")
	assert.Empty(t, store.records(), "Nothing should be stored")
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		dConf func(webservice.StaticConfig) webservice.StaticConfig
		cm    testConfigManager
	}{
		"Bad port": {
			dConf: func(d webservice.StaticConfig) webservice.StaticConfig {
				d.ListenPort = -1
				return d
			},
		},
		"Bad metrics port": {
			dConf: func(d webservice.StaticConfig) webservice.StaticConfig {
				d.Metrics.Port = -1
				return d
			},
		},
		"New watcher error": {
			cm: testConfigManager{newWatcherErr: errors.New("requested watcher error")},
		},
		"Watch error": {
			cm: testConfigManager{watchErr: errors.New("requested watch error")},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dConf := defaultDaemonConfig
			if tc.dConf != nil {
				dConf = tc.dConf(dConf)
			}

			createServerAndWaitReady(t, tc.cm, &mockStore{}, dConf, true)
		})
	}
}

func TestQuit(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		force bool
	}{
		"Graceful": {},
		"Forced":   {force: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, err := webservice.New(t.Context(), testConfigManager{}, &mockStore{}, defaultDaemonConfig)
			require.NoError(t, err, "Setup: failed to create server")

			runErr := make(chan error, 1)
			go func() {
				defer close(runErr)
				runErr <- s.Run()
			}()
			waitServerReady(t, s)
			addr := s.Addr()

			s.Quit(tc.force)

			select {
			case err := <-runErr:
				require.NoError(t, err, "Run should return without error after quit")
			case <-time.After(3 * time.Second):
				require.Fail(t, "Run should return after quit")
			}

			_, err = http.Get("http://" + addr + "/version")
			require.Error(t, err, "Server should not answer after quit")
		})
	}
}

func TestRunStopsAllGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dConf := defaultDaemonConfig
	dConf.ConfigPath = webservice.GenerateTestDaemonConfig(t, &config.Conf{DirtyFields: []string{"carttag"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := webservice.New(ctx, config.New(dConf.ConfigPath), &mockStore{}, dConf)
	require.NoError(t, err, "Setup: failed to create server")

	runErr := make(chan error, 1)
	go func() {
		defer close(runErr)
		runErr <- s.Run()
	}()
	waitServerReady(t, s)

	code, body := send(t, http.MethodPost, "http://"+s.Addr()+constants.CartEventPath, `{"carttag": "{"a":"b"}", "email": "x"}`)
	require.Equal(t, http.StatusOK, code, "Setup: event should be stored, body: %s", body)

	s.Quit(false)
	select {
	case err := <-runErr:
		require.NoError(t, err, "Run should return without error after quit")
	case <-time.After(5 * time.Second):
		require.Fail(t, "Run should return after quit")
	}
	http.DefaultClient.CloseIdleConnections()
}

func TestRunAfterQuitErrors(t *testing.T) {
	t.Parallel()

	s := createServerAndWaitReady(t, testConfigManager{}, &mockStore{}, defaultDaemonConfig, false)
	s.Quit(false)

	serverErr2 := make(chan error, 1)
	go func() {
		defer close(serverErr2)
		serverErr2 <- s.Run()
	}()

	select {
	case err := <-serverErr2:
		require.Error(t, err, "Server should have errored after second run")
	case <-time.After(1 * time.Second):
		require.Fail(t, "Server should have errored after second run")
	}
}

type testConfigManager struct {
	loadErr       error
	newWatcherErr error
	watchErr      error
}

func (t testConfigManager) Load() error {
	return t.loadErr
}

func (t testConfigManager) Watch(ctx context.Context) (<-chan struct{}, <-chan error, error) {
	if t.newWatcherErr != nil {
		return nil, nil, t.newWatcherErr
	}

	eventsChan := make(chan struct{})
	errorsChan := make(chan error)
	go func() {
		defer close(eventsChan)
		defer close(errorsChan)

		if t.watchErr != nil {
			errorsChan <- t.watchErr
			return
		}

		// Block until the context is done
		<-ctx.Done()
	}()

	return eventsChan, errorsChan, nil
}

func (t testConfigManager) Pipeline() event.Pipeline {
	return event.NewPipeline()
}

type mockStore struct {
	readyErr error

	mu       sync.Mutex
	inserted []models.Record
}

func (m *mockStore) Ready() error {
	return m.readyErr
}

func (m *mockStore) Insert(_ context.Context, r *models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted = append(m.inserted, *r)
	return nil
}

func (m *mockStore) records() []models.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Record(nil), m.inserted...)
}

// createServerAndWaitReady initializes and starts a webservice server for testing.
// If expectErr is true, it expects Run to fail and returns the server instance anyway.
func createServerAndWaitReady(t *testing.T, cm webservice.DConfigManager, store handlers.Store, dConf webservice.StaticConfig, expectErr bool) *webservice.Server {
	t.Helper()

	s, err := webservice.New(t.Context(), cm, store, dConf)
	require.NoError(t, err, "Setup: failed to create server")
	t.Cleanup(func() {
		s.Quit(true)
	})

	runErr := make(chan error, 1)
	go func() {
		defer close(runErr)
		runErr <- s.Run()
	}()

	if expectErr {
		select {
		case err := <-runErr:
			require.Error(t, err, "Run should fail")
		case <-time.After(3 * time.Second):
			require.Fail(t, "Expected Run to fail with error, but it did not")
		}
		return s
	}

	waitServerReady(t, s)
	return s
}

func waitServerReady(t *testing.T, s *webservice.Server) {
	t.Helper()

	require.Eventually(t, func() bool {
		if s.MetricsAddr() == "" {
			return false
		}
		resp, err := http.Get("http://" + s.Addr() + "/version")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond, "Setup: Server did not become ready in time")
}

func send(t *testing.T, method, url, body string) (int, string) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err, "Setup: failed to create request")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "Request should be sent")
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "Response should be read")
	return resp.StatusCode, string(b)
}
