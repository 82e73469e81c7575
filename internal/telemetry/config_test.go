package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 {
	return &f
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	assert.Equal(t, DefaultServiceName, cfg.GetServiceName())
	assert.Equal(t, "unknown", cfg.GetServiceVersion())
	assert.Equal(t, DefaultEndpoint, cfg.GetEndpoint())

	cfg = &Config{ServiceName: "jobwatch-relay", ServiceVersion: "v1.2.0", Endpoint: "otel:4318"}
	assert.Equal(t, "jobwatch-relay", cfg.GetServiceName())
	assert.Equal(t, "v1.2.0", cfg.GetServiceVersion())
	assert.Equal(t, "otel:4318", cfg.GetEndpoint())

	var tracing *TracingConfig
	assert.InDelta(t, DefaultSampling, tracing.GetSampling(), 0)
	assert.InDelta(t, 0.5, (&TracingConfig{Sampling: floatPtr(0.5)}).GetSampling(), 0)

	var metrics *MetricsConfig
	assert.Equal(t, ExporterOTLP, metrics.GetExporter())
	assert.Equal(t, ExporterPrometheus, (&MetricsConfig{Exporter: ExporterPrometheus}).GetExporter())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *Config
		wantErr []string
	}{
		{name: "nil", cfg: nil},
		{
			name: "disabled ignores bad sections",
			cfg: &Config{
				Tracing: &TracingConfig{Enabled: true, Sampling: floatPtr(7)},
				Metrics: &MetricsConfig{Enabled: true, Exporter: "statsd"},
			},
		},
		{name: "enabled without sections", cfg: &Config{Enabled: true}},
		{
			name: "full sampling",
			cfg:  &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: floatPtr(1)}},
		},
		{
			name: "disabled tracing is not checked",
			cfg:  &Config{Enabled: true, Tracing: &TracingConfig{Sampling: floatPtr(0)}},
		},
		{
			name:    "zero sampling",
			cfg:     &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: floatPtr(0)}},
			wantErr: []string{"tracing: sampling must be greater than 0.0"},
		},
		{
			name:    "unknown exporter",
			cfg:     &Config{Enabled: true, Metrics: &MetricsConfig{Enabled: true, Exporter: "statsd"}},
			wantErr: []string{`metrics: exporter must be "otlp" or "prometheus", got "statsd"`},
		},
		{
			name: "both sections invalid",
			cfg: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: floatPtr(1.5)},
				Metrics: &MetricsConfig{Enabled: true, Exporter: "statsd"},
			},
			wantErr: []string{"tracing:", "metrics:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if len(tt.wantErr) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}
