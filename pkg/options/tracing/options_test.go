package tracing

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	assert.Empty(t, NewOptions().Validate(), "disabled options are not checked")

	o := NewOptions()
	o.Enabled = true
	assert.Empty(t, o.Validate())

	o.Exporter = "zipkin"
	o.SampleRatio = 2
	o.BatchTimeout = 0
	assert.Len(t, o.Validate(), 3)

	o = NewOptions()
	o.Enabled = true
	o.Exporter = ExporterOTLPHTTP
	o.Endpoint = ""
	assert.Len(t, o.Validate(), 1)
}

func TestFlags(t *testing.T) {
	o := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--tracing.enabled",
		"--tracing.exporter=stdout",
		"--tracing.headers=authorization=token",
	}))
	assert.True(t, o.Enabled)
	assert.Equal(t, ExporterStdout, o.Exporter)
	assert.Equal(t, map[string]string{"authorization": "token"}, o.Headers)
}

func TestComplete(t *testing.T) {
	o := &Options{}
	require.NoError(t, o.Complete())
	assert.NotNil(t, o.Headers)
}
