package main

import (
	"context"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/avarfc/internal/config"
	"github.com/vyrodovalexey/avarfc/internal/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testConfig = `
server:
  port: 18080
metrics:
  enabled: false
audit:
  enabled: true
  store: sqlite
  dsn: "file:%s"
defaultDestination: ERP
destinations:
  - name: ERP
    type: sandbox
    critical: true
  - name: CRM
    type: sandbox
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testAppConfig(t *testing.T) *config.Config {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "audit.db")
	cfg, err := config.LoadConfigFromReader(strings.NewReader(strings.Replace(testConfig, "%s", dsn, 1)))
	require.NoError(t, err)
	require.NoError(t, config.ValidateConfig(cfg))
	return cfg
}

func newTestApplication(t *testing.T, cfg *config.Config) *application {
	t.Helper()
	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { app.close(context.Background()) })
	return app
}

// captureExit replaces exitFunc for the duration of the test.
func captureExit(t *testing.T) *int {
	t.Helper()
	code := -1
	orig := exitFunc
	exitFunc = func(c int) { code = c }
	t.Cleanup(func() { exitFunc = orig })
	return &code
}

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		setEnv   bool
		expected string
	}{
		{name: "returns default when env not set", expected: "default-value"},
		{name: "returns env value when set", envValue: "env-value", setEnv: true, expected: "env-value"},
		{name: "returns default when env is empty string", envValue: "", setEnv: true, expected: "default-value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setEnv {
				t.Setenv("RFCGW_TEST_ENV", tt.envValue)
			}
			assert.Equal(t, tt.expected, getEnvOrDefault("RFCGW_TEST_ENV", "default-value"))
		})
	}
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
		want cliFlags
	}{
		{
			name: "defaults",
			want: cliFlags{configPath: "configs/gateway.yaml"},
		},
		{
			name: "environment",
			env:  map[string]string{"RFCGW_CONFIG_PATH": "/etc/avarfc.yaml", "RFCGW_LOG_LEVEL": "debug", "RFCGW_LOG_FORMAT": "console"},
			want: cliFlags{configPath: "/etc/avarfc.yaml", logLevel: "debug", logFormat: "console"},
		},
		{
			name: "flags override environment",
			env:  map[string]string{"RFCGW_LOG_LEVEL": "debug"},
			args: []string{"-config", "a.yaml", "-log-level", "warn", "-version"},
			want: cliFlags{configPath: "a.yaml", logLevel: "warn", showVersion: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			got := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), tt.args)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Empty(t, firstNonEmpty("", ""))
}

func TestLoadAndValidateConfig(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := observability.NewZapLogger(zap.New(core))

	t.Run("valid", func(t *testing.T) {
		code := captureExit(t)
		path := writeConfig(t, "destinations:\n  - name: ERP\n    type: sandbox\ndefaultDestination: ERP\n")

		cfg := loadAndValidateConfig(path, logger)

		require.NotNil(t, cfg)
		assert.Equal(t, -1, *code)
		assert.Equal(t, "ERP", cfg.DefaultDestination)
		assert.Equal(t, 1, logs.FilterMessage("configuration loaded").Len())
	})

	t.Run("missing file", func(t *testing.T) {
		code := captureExit(t)
		cfg := loadAndValidateConfig(filepath.Join(t.TempDir(), "missing.yaml"), logger)
		assert.Nil(t, cfg)
		assert.Equal(t, 1, *code)
	})

	t.Run("invalid", func(t *testing.T) {
		code := captureExit(t)
		path := writeConfig(t, "server:\n  errorStatus: loose\n")
		cfg := loadAndValidateConfig(path, logger)
		assert.Nil(t, cfg)
		assert.Equal(t, 1, *code)
		assert.Equal(t, 1, logs.FilterMessage("invalid configuration").Len())
	})
}

func TestNewApplication(t *testing.T) {
	app := newTestApplication(t, testAppConfig(t))

	assert.Nil(t, app.guard)
	assert.Equal(t, "ERP", app.server.Caller().DefaultDestination())

	app.prober.ProbeAll(context.Background())
	assert.Equal(t, http.StatusOK, serve(app, http.MethodGet, "/ready", "").Code)

	w := serve(app, http.MethodGet, "/rfc/?fm=STFC_CONNECTION&query=%7B%22REQUTEXT%22%3A%22hi%22%7D", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"ECHOTEXT":"hi"`)
}

func TestNewApplication_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name: "invalid policy",
			mutate: func(c *config.Config) {
				c.Auth.Enabled = true
				c.Auth.JWKSFile = "unused.json"
				c.Auth.Policy = "roles +"
			},
			wantErr: "invalid access policy",
		},
		{
			name: "missing key set",
			mutate: func(c *config.Config) {
				c.Auth.Enabled = true
				c.Auth.JWKSFile = filepath.Join(t.TempDir(), "missing.json")
			},
			wantErr: "failed to create authenticator",
		},
		{
			name:    "unknown audit store",
			mutate:  func(c *config.Config) { c.Audit.Store = "kafka" },
			wantErr: "failed to open audit store",
		},
		{
			name:    "invalid status policy",
			mutate:  func(c *config.Config) { c.Server.ErrorStatus = "loose" },
			wantErr: "failed to create server",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testAppConfig(t)
			tt.mutate(cfg)

			_, err := newApplication(context.Background(), cfg, observability.NopLogger())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitApplication_ExitsOnError(t *testing.T) {
	code := captureExit(t)
	cfg := testAppConfig(t)
	cfg.Audit.Store = "kafka"

	assert.Nil(t, initApplication(cfg, observability.NopLogger()))
	assert.Equal(t, 1, *code)
}

func TestApplication_Reload(t *testing.T) {
	app := newTestApplication(t, testAppConfig(t))

	store := app.audit.Load()

	next := testAppConfig(t)
	next.DefaultDestination = "CRM"
	next.Transaction.Wait = true
	require.NoError(t, app.reload(next))

	assert.NotSame(t, store, app.audit.Load(), "a new audit DSN opens a new store")

	assert.Equal(t, "CRM", app.server.Caller().DefaultDestination())
	assert.Same(t, next, app.currentConfig())

	dest, err := app.registry.Destination(context.Background(), "CRM")
	require.NoError(t, err)
	assert.Equal(t, "CRM", dest.Name())
}

func TestApplication_ReloadKeepsConfigOnError(t *testing.T) {
	cfg := testAppConfig(t)
	app := newTestApplication(t, cfg)

	next := testAppConfig(t)
	next.DefaultDestination = "CRM"
	next.Destinations[1].Type = "carrier-pigeon"
	require.Error(t, app.reload(next))

	assert.Same(t, cfg, app.currentConfig())
	assert.Equal(t, "ERP", app.server.Caller().DefaultDestination())
}

func TestWarnRestartRequired(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := observability.NewZapLogger(zap.New(core))

	old := config.DefaultConfig()
	next := config.DefaultConfig()
	next.Server.Port = 9999
	next.Auth.Policy = "true"
	next.RateLimit.Enabled = true

	warnRestartRequired(logger, old, next)

	var sections []string
	for _, e := range logs.All() {
		sections = append(sections, e.ContextMap()["section"].(string))
	}
	assert.ElementsMatch(t, []string{"server", "rateLimit"}, sections)
}

func TestApplication_Shutdown(t *testing.T) {
	app := newTestApplication(t, testAppConfig(t))

	app.shutdown(nil)

	assert.True(t, app.healthChecker.IsDraining())
	assert.Equal(t, http.StatusServiceUnavailable, serve(app, http.MethodGet, "/ready", "").Code)
}

func TestCreateMetricsServer(t *testing.T) {
	app := newTestApplication(t, testAppConfig(t))
	srv := createMetricsServer(config.MetricsConfig{Enabled: true, Port: 19090, Path: "/metrics"},
		app.metrics, app.healthChecker, observability.NopLogger())

	assert.Equal(t, ":19090", srv.Addr)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "avarfc_build_info")

	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func serve(app *application, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	app.server.Engine().ServeHTTP(w, req)
	return w
}
