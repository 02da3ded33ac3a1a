package axdma

import (
	"testing"

	"github.com/slackhq/axdma/config"
	"github.com/slackhq/axdma/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartStats(t *testing.T) {
	cases := []struct {
		name    string
		conf    string
		wantErr string
	}{
		{"disabled", "stats:\n  type: none\n", ""},
		{"missing", "dma: {}\n", ""},
		{"no interval", "stats:\n  type: graphite\n  host: 127.0.0.1:2003\n", "stats.interval was an invalid duration: "},
		{"unknown type", "stats:\n  type: statsd\n  interval: 1s\n", "stats.type was not understood: statsd"},
		{"graphite no host", "stats:\n  type: graphite\n  interval: 1s\n", "stats.host can not be empty"},
		{"graphite", "stats:\n  type: graphite\n  interval: 1s\n  host: 127.0.0.1:2003\n", ""},
		{"prometheus no listen", "stats:\n  type: prometheus\n  interval: 1s\n  path: /metrics\n", "stats.listen should not be empty"},
		{"prometheus no path", "stats:\n  type: prometheus\n  interval: 1s\n  listen: 127.0.0.1:0\n", "stats.path should not be empty"},
		{"prometheus", "stats:\n  type: prometheus\n  interval: 1s\n  listen: 127.0.0.1:0\n  path: /metrics\n  namespace: axdma\n", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := test.NewLogger()
			c := config.NewC(l)
			require.NoError(t, c.LoadString(tc.conf))

			run, err := startStats(l, c, "test", true)
			if tc.wantErr != "" {
				assert.EqualError(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
			// config test mode never hands back an exporter
			assert.Nil(t, run)
		})
	}
}
