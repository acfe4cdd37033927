package server

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/synqronlabs/wren"
	"github.com/synqronlabs/wren/dns"
)

// testClient is a minimal SMTP client for integration tests.
type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
}

func newTestClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect to server: %v", err)
	}
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	return &testClient{conn: conn, reader: bufio.NewReader(conn), t: t}
}

func (c *testClient) close() { c.conn.Close() }

func (c *testClient) send(cmd string) {
	if _, err := c.conn.Write([]byte(cmd + "\r\n")); err != nil {
		c.t.Fatalf("Failed to send command %q: %v", cmd, err)
	}
}

func (c *testClient) readLine() string {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("Failed to read response: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

// expectCode reads a possibly multi-line reply and checks its code.
func (c *testClient) expectCode(code int) []string {
	c.t.Helper()
	var lines []string
	for {
		line := c.readLine()
		lines = append(lines, line)
		if len(line) < 4 || line[3] != '-' {
			break
		}
	}
	var got int
	fmt.Sscanf(lines[len(lines)-1], "%d", &got)
	if got != code {
		c.t.Fatalf("Expected code %d, got response: %v", code, lines)
	}
	return lines
}

func (c *testClient) startTLS(pool *x509.CertPool) {
	c.t.Helper()
	tc := tls.Client(c.conn, &tls.Config{RootCAs: pool, ServerName: "localhost"})
	if err := tc.Handshake(); err != nil {
		c.t.Fatalf("TLS handshake failed: %v", err)
	}
	c.conn = tc
	c.reader = bufio.NewReader(tc)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func generateTestCert(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate private key: %v", err)
	}
	serial, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, pool
}

// collector is a Handler that records delivered messages.
type collector struct {
	wren.NopHandler
	mu       sync.Mutex
	peer     wren.PeerInfo
	body     strings.Builder
	messages []string
}

func (c *collector) OnDataChunk(_ context.Context, chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.body.Write(chunk)
}

func (c *collector) OnDataEnd(context.Context) wren.Disposition {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, c.body.String())
	c.body.Reset()
	return wren.Accept()
}

func (c *collector) delivered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

func startTestServer(t *testing.T, engine *wren.Engine, factory HandlerFactory, config Config) (*Server, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	config.Logger = discardLogger()
	srv, err := New(engine, factory, config)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(l)
	}()
	t.Cleanup(func() {
		srv.Close()
		<-done
	})
	return srv, l.Addr().String()
}

func testEngine(t *testing.T, b *wren.Builder) *wren.Engine {
	t.Helper()
	e, err := b.Logger(discardLogger()).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return e
}

func TestServerTransaction(t *testing.T) {
	h := &collector{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	_, addr := startTestServer(t, testEngine(t, wren.New("mx.example.com")),
		func(wren.PeerInfo) wren.Handler { return h }, Config{Metrics: metrics})

	c := newTestClient(t, addr)
	defer c.close()
	c.expectCode(220)
	c.send("EHLO client.example.com")
	lines := c.expectCode(250)
	if !strings.Contains(strings.Join(lines, "\n"), "PIPELINING") {
		t.Errorf("EHLO reply %v lacks PIPELINING", lines)
	}

	// Pipelined transaction in one write.
	c.conn.Write([]byte("MAIL FROM:<a@x.com>\r\nRCPT TO:<b@y.com>\r\nDATA\r\n"))
	c.expectCode(250)
	c.expectCode(250)
	c.expectCode(354)
	c.conn.Write([]byte("Subject: test\r\n\r\n..dot\r\n.\r\n"))
	c.expectCode(250)
	c.send("QUIT")
	c.expectCode(221)

	if _, err := c.reader.ReadString('\n'); err == nil {
		t.Error("connection still open after QUIT")
	}

	got := h.delivered()
	if len(got) != 1 || got[0] != "Subject: test\r\n\r\n.dot\r\n" {
		t.Errorf("delivered = %q", got)
	}

	if n := testutil.ToFloat64(metrics.connections); n != 1 {
		t.Errorf("connections_total = %v, want 1", n)
	}
	if n := testutil.ToFloat64(metrics.replies.WithLabelValues("250")); n != 4 {
		t.Errorf("replies_total{code=250} = %v, want 4", n)
	}
}

func TestServerSTARTTLS(t *testing.T) {
	cert, pool := generateTestCert(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	var mu sync.Mutex
	var peers []wren.PeerInfo
	factory := func(p wren.PeerInfo) wren.Handler {
		mu.Lock()
		peers = append(peers, p)
		mu.Unlock()
		return wren.NopHandler{}
	}
	engine := testEngine(t, wren.New("mx.example.com").StartTLS().Auth("PLAIN").AuthRequiresTLS())
	_, addr := startTestServer(t, engine, factory, Config{
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
		Metrics:   metrics,
	})

	c := newTestClient(t, addr)
	defer c.close()
	c.expectCode(220)
	c.send("EHLO client")
	lines := strings.Join(c.expectCode(250), "\n")
	if !strings.Contains(lines, "STARTTLS") || strings.Contains(lines, "AUTH") {
		t.Errorf("EHLO before TLS = %q", lines)
	}
	c.send("STARTTLS")
	c.expectCode(220)
	c.startTLS(pool)

	c.send("EHLO client")
	lines = strings.Join(c.expectCode(250), "\n")
	if strings.Contains(lines, "STARTTLS") || !strings.Contains(lines, "AUTH PLAIN") {
		t.Errorf("EHLO after TLS = %q", lines)
	}
	c.send("AUTH PLAIN AGFsaWNlAHNlY3JldA==")
	c.expectCode(235)
	c.send("QUIT")
	c.expectCode(221)

	if n := testutil.ToFloat64(metrics.tlsUpgrades.WithLabelValues("success")); n != 1 {
		t.Errorf("starttls_total{result=success} = %v", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(peers) != 1 || peers[0].TLS {
		t.Errorf("peers = %+v", peers)
	}
}

func TestServerNewRequiresTLSConfig(t *testing.T) {
	engine := testEngine(t, wren.New("mx.example.com").StartTLS())
	if _, err := New(engine, nil, Config{}); err == nil {
		t.Error("New accepted STARTTLS without a TLS config")
	}
	if _, err := New(nil, nil, Config{}); err == nil {
		t.Error("New accepted a nil engine")
	}
}

func TestServerReverseLookup(t *testing.T) {
	resolver := dns.MockResolver{
		PTR: map[string][]string{"127.0.0.1": {"client.test."}},
		IP:  map[string][]string{"client.test": {"127.0.0.1"}},
	}
	peers := make(chan wren.PeerInfo, 1)
	factory := func(p wren.PeerInfo) wren.Handler {
		peers <- p
		return wren.NopHandler{}
	}
	_, addr := startTestServer(t, testEngine(t, wren.New("mx.example.com")), factory, Config{Resolver: resolver})

	c := newTestClient(t, addr)
	defer c.close()
	c.expectCode(220)

	select {
	case p := <-peers:
		if p.Hostname != "client.test" {
			t.Errorf("PeerInfo.Hostname = %q, want client.test", p.Hostname)
		}
		if p.Addr == nil {
			t.Error("PeerInfo.Addr is nil")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler factory not called")
	}
}

func TestServerMaxConnections(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	srv, addr := startTestServer(t, testEngine(t, wren.New("mx.example.com")), nil, Config{
		MaxConnections: 1,
		Metrics:        metrics,
	})

	c1 := newTestClient(t, addr)
	defer c1.close()
	c1.expectCode(220)

	deadline := time.Now().Add(5 * time.Second)
	for srv.ActiveConnections() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	c2 := newTestClient(t, addr)
	defer c2.close()
	c2.expectCode(421)

	if n := testutil.ToFloat64(metrics.limitRejections); n != 1 {
		t.Errorf("connections_limited_total = %v, want 1", n)
	}
}

func TestServerReadTimeout(t *testing.T) {
	_, addr := startTestServer(t, testEngine(t, wren.New("mx.example.com")), nil, Config{
		ReadTimeout: 100 * time.Millisecond,
	})
	c := newTestClient(t, addr)
	defer c.close()
	c.expectCode(220)
	c.expectCode(421)
}

func TestServerShutdown(t *testing.T) {
	srv, addr := startTestServer(t, testEngine(t, wren.New("mx.example.com")), nil, Config{})
	c := newTestClient(t, addr)
	defer c.close()
	c.expectCode(220)
	c.send("NOOP")
	c.expectCode(250)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	c.expectCode(421)
	if srv.ActiveConnections() != 0 {
		t.Errorf("ActiveConnections() = %d after shutdown", srv.ActiveConnections())
	}
}

func TestServerLineTooLong(t *testing.T) {
	_, addr := startTestServer(t, testEngine(t, wren.New("mx.example.com")), nil, Config{})
	c := newTestClient(t, addr)
	defer c.close()
	c.expectCode(220)
	c.send("NOOP " + strings.Repeat("x", 5000))
	c.expectCode(500)
	c.send("NOOP")
	c.expectCode(250)
}
