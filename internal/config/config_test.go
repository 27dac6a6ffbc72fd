package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
module:
  pkgs:
    - path: /opt/modules/foo.so
      enable_modules: [foo]
  modules:
    - name: foo
      log_lvl: Debug
executor:
  executors:
    - name: main_pool
      type: asio_thread
      options:
        thread_num: 4
        queue_threshold: 5000
channel:
  backends:
    - type: local
  pub_topics_options:
    - topic_name: "telemetry.*"
      enable_backends: [local]
logging:
  level: Warn
  encoding: json
future_feature:
  some_key: some_value
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DecodesTypedDocument(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	doc, raw, err := Load(path)
	require.NoError(t, err)

	require.Len(t, doc.Module.Pkgs, 1)
	require.Equal(t, "/opt/modules/foo.so", doc.Module.Pkgs[0].Path)
	require.Len(t, doc.Module.Modules, 1)
	require.True(t, doc.Module.Modules[0].Enabled())
	require.Equal(t, "Debug", doc.Module.Modules[0].LogLvl)

	require.Len(t, doc.Executor.Executors, 1)
	require.EqualValues(t, 4, doc.Executor.Executors[0].Options.ThreadNum)
	require.EqualValues(t, 5000, doc.Executor.Executors[0].Options.QueueThreshold)

	require.Equal(t, "Warn", doc.Logging.Level)
	require.Equal(t, "json", doc.Logging.Encoding)

	require.Equal(t, []string{"future_feature"}, raw.UnknownKeys())
}

func TestModuleEntry_DisabledWhenExplicit(t *testing.T) {
	f := false
	e := ModuleEntry{Name: "x", Enable: &f}
	require.False(t, e.Enabled())
}

func TestRawDoc_RoundTripPreservesUnknownKeys(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	_, raw, err := Load(path)
	require.NoError(t, err)

	out, err := raw.Marshal()
	require.NoError(t, err)

	_, raw2, err := newRawDocFromBytes(out)
	require.NoError(t, err)
	require.Equal(t, []string{"future_feature"}, raw2.UnknownKeys())
}

func newRawDocFromBytes(data []byte) (Document, *RawDoc, error) {
	raw, err := newRawDoc(data)
	return Document{}, raw, err
}

func TestLoggingConfig_ToLoggerConfigDefaultsToInfo(t *testing.T) {
	l := LoggingConfig{}
	require.Equal(t, 1, int(l.ToLoggerConfig("x").Level)) // logger.Info == 1
}
