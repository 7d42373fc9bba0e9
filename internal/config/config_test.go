package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(strings.NewReader(""))
	require.NoError(t, err)

	require.Equal(t, "vc.requests", cfg.Queue.Topic)
	require.Equal(t, "vccoord", cfg.Queue.Group)
	require.Equal(t, 25*time.Millisecond, cfg.Queue.PollInterval.Duration())
	require.Equal(t, time.Minute, cfg.Queue.PackProcessingTimeout.Duration())
	require.Equal(t, "vccoord", cfg.Kafka.ClientID)
	require.False(t, cfg.AbortPendingOnAdmin)
}

func TestLoadFile(t *testing.T) {
	tomlData := `
prometheus_listen_addr = ":9236"
storage_dir = "/var/lib/vccoord"
abort_pending_on_admin = true

[logging]
format = "json"
level = "debug"

[queue]
topic = "vc.in"
group = "vc-coordinators"
poll_interval = "50ms"
pack_processing_timeout = "2m"

[kafka]
brokers = ["kafka-1:9092", "kafka-2:9092"]
client_id = "vccoord-1"
version = "2.8.0"
`

	cfg, err := Load(strings.NewReader(tomlData))
	require.NoError(t, err)

	require.Equal(t, ":9236", cfg.PrometheusListenAddr)
	require.Equal(t, "/var/lib/vccoord", cfg.StorageDir)
	require.True(t, cfg.AbortPendingOnAdmin)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, "vc.in", cfg.Queue.Topic)
	require.Equal(t, 50*time.Millisecond, cfg.Queue.PollInterval.Duration())
	require.Equal(t, 2*time.Minute, cfg.Queue.PackProcessingTimeout.Duration())
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, "vccoord-1", cfg.Kafka.ClientID)

	require.NoError(t, cfg.Validate())
}

func TestLoadMalformedToml(t *testing.T) {
	_, err := Load(strings.NewReader("storage_dir = ["))
	require.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	require.NoError(t, os.Setenv("VCCOORD_STORAGE_DIR", "/srv/vccoord"))
	defer func() { require.NoError(t, os.Unsetenv("VCCOORD_STORAGE_DIR")) }()

	cfg, err := Load(strings.NewReader(`storage_dir = "/var/lib/vccoord"`))
	require.NoError(t, err)
	require.Equal(t, "/srv/vccoord", cfg.StorageDir)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		desc   string
		modify func(*Cfg)
		errMsg string
	}{
		{
			desc:   "missing storage dir",
			modify: func(cfg *Cfg) { cfg.StorageDir = "" },
			errMsg: "storage_dir is not set",
		},
		{
			desc:   "missing brokers",
			modify: func(cfg *Cfg) { cfg.Kafka.Brokers = nil },
			errMsg: "kafka.brokers is not set",
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := Cfg{StorageDir: "/var/lib/vccoord"}
			cfg.Kafka.Brokers = []string{"kafka:9092"}

			tc.modify(&cfg)
			require.EqualError(t, cfg.Validate(), tc.errMsg)
		})
	}
}
