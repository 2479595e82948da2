package bank

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigs_Array(t *testing.T) {
	raw := `[
	  {"name":"a","url":"https://a.example/q?t=${title}","handler":"return (res)=> [res.q, res.a]"},
	  {"name":"b","url":"http://b.example/","method":"POST","data":{"q":"${title}"},"handler":"res.answer","timeout":1500}
	]`
	configs, err := ParseConfigs([]byte(raw))
	require.NoError(t, err)
	require.Len(t, configs, 2)

	assert.Equal(t, "a", configs[0].Name)
	assert.Equal(t, MethodGet, configs[0].method())
	assert.Equal(t, ContentJSON, configs[0].contentType())
	assert.Equal(t, DefaultTimeout, configs[0].timeout(0))

	assert.Equal(t, MethodPost, configs[1].method())
	assert.Equal(t, 1500*time.Millisecond, configs[1].timeout(time.Second))
	assert.Equal(t, "${title}", configs[1].Data["q"])
}

func TestParseConfigs_SingleObject(t *testing.T) {
	configs, err := ParseConfigs([]byte(`{"name":"solo","url":"https://x.example","handler":"res"}`))
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "solo", configs[0].Name)
}

func TestParseConfigs_Empty(t *testing.T) {
	configs, err := ParseConfigs([]byte("  \n"))
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func TestParseConfigs_NamesEveryBadEntry(t *testing.T) {
	raw := `[
	  {"name":"ok","url":"https://ok.example","handler":"res"},
	  {"name":"nourl","handler":"res"},
	  {"name":"ftp","url":"ftp://x","handler":"res"},
	  {"url":"https://anon.example","handler":"res"}
	]`
	_, err := ParseConfigs([]byte(raw))
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	msg := err.Error()
	assert.Contains(t, msg, "config[1] (nourl)")
	assert.Contains(t, msg, "config[2] (ftp)")
	assert.Contains(t, msg, "config[3]")
	assert.NotContains(t, msg, "(ok)")
}

func TestParseConfigs_BadHandler(t *testing.T) {
	_, err := ParseConfigs([]byte(`[{"name":"blk","url":"https://x.example","handler":"(res) => { return 1 }"}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config[0] (blk): handler")
}

func TestParseConfigs_DuplicateNames(t *testing.T) {
	raw := `[
	  {"name":"dup","url":"https://a.example","handler":"res"},
	  {"name":"dup","url":"https://b.example","handler":"res"}
	]`
	_, err := ParseConfigs([]byte(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate bank name "dup"`)
}

func TestParseConfigs_NotJSON(t *testing.T) {
	_, err := ParseConfigs([]byte("not json"))
	require.Error(t, err)

	_, err = ParseConfigs([]byte(`"just a string"`))
	require.Error(t, err)
}

func TestExampleConfigs_RoundTrip(t *testing.T) {
	for _, set := range [][]Config{ExampleConfigs(), SimpleConfigs()} {
		data, err := json.Marshal(set)
		require.NoError(t, err)
		parsed, err := ParseConfigs(data)
		require.NoError(t, err)
		assert.Equal(t, set, parsed)
	}
}
