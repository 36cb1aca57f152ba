package probe

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"matchqueue/internal/metrics"
)

// Target identifies a game server to probe.
type Target struct {
	IP   string
	Port int
}

func (t Target) String() string { return fmt.Sprintf("%s:%d", t.IP, t.Port) }

func (t Target) udpAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", t.String())
}

// Prober sends OOB getinfo datagrams and matches replies to outstanding
// requests by challenge token, generalizing the teacher's per-server
// getstatus exchange (q3master_poller.go) to the §4.2/§6 getinfo
// handshake with a random challenge instead of a fixed verb.
type Prober struct {
	conn    *net.UDPConn
	log     *zap.Logger
	metrics *metrics.Metrics
	// limiter bounds outbound probe fan-out, generalizing the teacher's
	// master.go token-bucket (allowRequest) from heartbeats to probes.
	limiter *rate.Limiter

	mu      sync.Mutex
	pending map[string]chan reply
}

type reply struct {
	info ServerInfo
	err  error
}

// Open binds a UDP socket for sending probes and receiving replies.
// bindAddr may be ":0" to let the OS choose an ephemeral port.
func Open(bindAddr string, log *zap.Logger, m *metrics.Metrics) (*Prober, error) {
	laddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve probe bind addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	p := &Prober{
		conn:    conn,
		log:     log,
		metrics: m,
		limiter: rate.NewLimiter(rate.Limit(200), 50),
		pending: make(map[string]chan reply),
	}
	go p.readLoop()
	return p, nil
}

// Close releases the UDP socket.
func (p *Prober) Close() error {
	return p.conn.Close()
}

func (p *Prober) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, _, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			// Closed socket or fatal network error; the loop exits, the
			// Prober becomes unusable. Callers own lifecycle via Close.
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		go p.handleDatagram(data)
	}
}

func (p *Prober) handleDatagram(data []byte) {
	kv, err := decodeInfoResponse(data)
	if err != nil {
		p.log.Debug("discarding malformed probe reply", zap.Error(err))
		return
	}
	challenge := kv["challenge"]
	p.mu.Lock()
	ch, ok := p.pending[challenge]
	p.mu.Unlock()
	if !ok {
		p.log.Debug("discarding reply with unmatched challenge", zap.String("challenge", challenge))
		return
	}
	select {
	case ch <- reply{info: parseServerInfo(kv, 0)}:
	default:
	}
}

// RequestInfo sends one probe to target and waits up to timeout for a
// matching reply. Returns (info, true) on success, (zero, false) on
// timeout, network error, or a malformed/non-matching reply — the
// probe never surfaces an error to callers per §4.2's failure model.
func (p *Prober) RequestInfo(ctx context.Context, target Target, timeout time.Duration) (ServerInfo, bool) {
	if !p.limiter.Allow() {
		p.log.Warn("probe rate limited", zap.String("target", target.String()))
		return ServerInfo{}, false
	}

	challenge, err := newChallenge()
	if err != nil {
		p.log.Error("generate challenge", zap.Error(err))
		return ServerInfo{}, false
	}

	ch := make(chan reply, 1)
	p.mu.Lock()
	p.pending[challenge] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, challenge)
		p.mu.Unlock()
	}()

	addr, err := target.udpAddr()
	if err != nil {
		p.log.Warn("resolve probe target", zap.String("target", target.String()), zap.Error(err))
		return ServerInfo{}, false
	}

	sent := time.Now()
	if _, err := p.conn.WriteToUDP(encodeGetInfo(challenge), addr); err != nil {
		p.log.Warn("send probe", zap.String("target", target.String()), zap.Error(err))
		if p.metrics != nil {
			p.metrics.ProbeFailureTotal.Inc()
		}
		return ServerInfo{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		ping := time.Since(sent)
		if p.metrics != nil {
			p.metrics.ProbeLatency.Observe(ping.Seconds())
		}
		r.info.Ping = ping
		return r.info, true
	case <-timer.C:
		if p.metrics != nil {
			p.metrics.ProbeFailureTotal.Inc()
		}
		return ServerInfo{}, false
	case <-ctx.Done():
		return ServerInfo{}, false
	}
}

// StartBatch fires probes for many targets concurrently, invoking
// onReply(target, info, ok) as each settles. Ordering of callbacks is
// unspecified, matching §4.2.
func (p *Prober) StartBatch(ctx context.Context, targets []Target, timeout time.Duration, onReply func(Target, ServerInfo, bool)) {
	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			info, ok := p.RequestInfo(ctx, t, timeout)
			onReply(t, info, ok)
		}(t)
	}
	wg.Wait()
}
