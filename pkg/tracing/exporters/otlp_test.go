package exporters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]string
		wantErr bool
	}{
		{name: "Empty", raw: "", want: map[string]string{}},
		{name: "Pairs", raw: "api-key=abc, tenant = shelter ", want: map[string]string{"api-key": "abc", "tenant": "shelter"}},
		{name: "ValueWithEquals", raw: "auth=Basic a2V5=", want: map[string]string{"auth": "Basic a2V5="}},
		{name: "MissingSeparator", raw: "api-key", wantErr: true},
		{name: "EmptyKey", raw: "=abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHeaders(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewOTLPExporterRejectsUnknownProtocol(t *testing.T) {
	_, err := NewOTLPExporter(context.Background(), OTLPConfig{Endpoint: "localhost:4317", Protocol: "udp"})
	assert.ErrorContains(t, err, "unsupported OTLP protocol")
}
