package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_PasswordIsMasked(t *testing.T) {
	o := NewOptions()
	o.Password = "s3cret"

	data, err := json.Marshal(o)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "s3cret")
	assert.Contains(t, string(data), `"password":"******"`)
	assert.NotContains(t, o.String(), "s3cret")
	assert.Equal(t, "s3cret", o.Password)

	o.Password = ""
	data, err = json.Marshal(o)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"password":""`)
}

func TestOptions_ClientOptions(t *testing.T) {
	o := NewOptions()
	o.Host = "::1"
	o.Database = 2

	c := o.ClientOptions()
	assert.Equal(t, "[::1]:6379", c.Addr)
	assert.Equal(t, 2, c.DB)
	assert.Equal(t, o.PoolSize, c.PoolSize)
}

func TestOptions_CompleteReadsEnv(t *testing.T) {
	t.Setenv("REDIS_PASSWORD", "from-env")
	o := NewOptions()
	require.NoError(t, o.Complete())
	assert.Equal(t, "from-env", o.Password)

	o.Password = "flag"
	require.NoError(t, o.Complete())
	assert.Equal(t, "flag", o.Password)
}

func TestOptions_Validate(t *testing.T) {
	o := NewOptions()
	o.Port = 0
	assert.Empty(t, o.Validate(), "disabled redis is not validated")

	o.Enabled = true
	o.Host = ""
	o.AnswerTTL = 0
	o.EmbeddingTTL = -time.Second
	assert.Len(t, o.Validate(), 4)

	assert.Empty(t, (*Options)(nil).Validate())
}

func TestOptions_AddFlags(t *testing.T) {
	o := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{"--redis.enabled", "--redis.port=6380", "--redis.answer-ttl=1m"}))
	assert.True(t, o.Enabled)
	assert.Equal(t, 6380, o.Port)
	assert.Equal(t, time.Minute, o.AnswerTTL)
}
