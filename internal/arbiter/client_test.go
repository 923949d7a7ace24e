package arbiter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/humans-net/oxibridge/internal/config"
)

func TestParseDirective(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Directive
	}{
		{
			name: "full response",
			body: `{"should_connect": false, "is_active_bridge": true, "release_connection": false}`,
			want: Directive{ShouldConnect: false, IsActiveBridge: true},
		},
		{
			name: "should_connect absent defaults to true",
			body: `{"is_active_bridge": false, "release_connection": true}`,
			want: Directive{ShouldConnect: true, ReleaseConnection: true},
		},
		{
			name: "empty object",
			body: `{}`,
			want: Directive{ShouldConnect: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDirective([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDirectiveMalformed(t *testing.T) {
	got, err := ParseDirective([]byte(`not json`))
	require.Error(t, err)
	assert.Equal(t, DefaultDirective(), got)
}

type ClientSuite struct {
	suite.Suite

	server   *httptest.Server
	response atomic.Value // string
	status   atomic.Int32
	lastURL  atomic.Value // string
}

func (s *ClientSuite) SetupTest() {
	s.response.Store(`{"should_connect": true}`)
	s.status.Store(int32(http.StatusOK))
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.lastURL.Store(r.URL.String())
		w.WriteHeader(int(s.status.Load()))
		_, _ = io.WriteString(w, s.response.Load().(string))
	}))
}

func (s *ClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *ClientSuite) newClient(statusURL string) *Client {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewClient(config.ArbitrationConfig{
		StatusURL:      statusURL,
		RequestTimeout: 2 * time.Second,
	}, logger)
}

func (s *ClientSuite) TestPollReportsStatusAndReturnsDirective() {
	s.response.Store(`{"should_connect": false, "is_active_bridge": true}`)
	c := s.newClient(s.server.URL)

	d := c.Poll(context.Background(), "node-a", -72, true)
	s.Equal(Directive{ShouldConnect: false, IsActiveBridge: true}, d)
	s.Equal(d, c.Last())

	url := s.lastURL.Load().(string)
	s.Contains(url, "bridge_id=node-a")
	s.Contains(url, "rssi=-72")
	s.Contains(url, "connected=1")
}

func (s *ClientSuite) TestPollEncodesDisconnectedStatus() {
	c := s.newClient(s.server.URL)
	c.Poll(context.Background(), "node-a", -100, false)
	s.Contains(s.lastURL.Load().(string), "connected=0")
}

func (s *ClientSuite) TestPollFailOpenOnServerError() {
	s.response.Store(`{"should_connect": false, "is_active_bridge": true}`)
	c := s.newClient(s.server.URL)
	first := c.Poll(context.Background(), "node-a", -60, true)
	s.False(first.ShouldConnect)

	// A later server failure keeps the established directive.
	s.status.Store(int32(http.StatusInternalServerError))
	d := c.Poll(context.Background(), "node-a", -60, true)
	s.Equal(first, d)
}

func (s *ClientSuite) TestPollFailOpenOnUnreachableEndpoint() {
	c := s.newClient("http://127.0.0.1:1/status")
	d := c.Poll(context.Background(), "node-a", -60, false)
	s.Equal(DefaultDirective(), d)
}

func (s *ClientSuite) TestPollFailOpenOnMalformedBody() {
	s.response.Store(`{{{`)
	c := s.newClient(s.server.URL)
	d := c.Poll(context.Background(), "node-a", -60, false)
	s.Equal(DefaultDirective(), d)
}

func (s *ClientSuite) TestDisabledClientStaysStandalone() {
	c := s.newClient("")
	s.False(c.Enabled())
	d := c.Poll(context.Background(), "node-a", -60, false)
	s.Equal(DefaultDirective(), d)
}

func (s *ClientSuite) TestApplyRecordsEchoedDirective() {
	c := s.newClient(s.server.URL)
	echo := Directive{ShouldConnect: true, ReleaseConnection: true}
	c.Apply(echo)
	s.Equal(echo, c.Last())
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}
