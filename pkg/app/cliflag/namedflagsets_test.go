package cliflag

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamedFlagSets_Order(t *testing.T) {
	var fss NamedFlagSets
	fss.FlagSet("http").String("http.addr", ":8000", "listen address")
	fss.FlagSet("rag").Int("rag.top-k", 3, "default top k")
	fss.FlagSet("http").Duration("http.read-timeout", 0, "read timeout")

	assert.Equal(t, []string{"http", "rag"}, fss.Order)
	assert.NotNil(t, fss.FlagSets["http"].Lookup("http.read-timeout"))
}

func TestPrintSections(t *testing.T) {
	var fss NamedFlagSets
	fss.FlagSet("http").String("http.addr", ":8000", "listen address")
	fss.FlagSet("empty")
	fss.FlagSet("rag").Int("rag.top-k", 3, "default top k")

	var buf bytes.Buffer
	PrintSections(&buf, fss, 0)

	out := buf.String()
	assert.Contains(t, out, "Http flags:")
	assert.Contains(t, out, "--http.addr")
	assert.Contains(t, out, "Rag flags:")
	assert.NotContains(t, out, "Empty flags:")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("Http")), bytes.Index(buf.Bytes(), []byte("Rag")))
}
