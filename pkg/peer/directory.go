package peer

import (
	"context"
	"fmt"
	"net"
	"sort"
	stdsync "sync"
	"time"

	"github.com/bbque/rtrm/pkg/log"
	"github.com/bbque/rtrm/pkg/metrics"
	"github.com/bbque/rtrm/pkg/rpc"
	"github.com/bbque/rtrm/pkg/types"
)

// PingNumber and PingCycles size the per-peer ring buffer: PingNumber
// samples are taken every tick, and the last PingNumber*PingCycles of them
// are retained for the mean-RTT/availability computation (spec.md §4.8).
const (
	PingNumber = 3
	PingCycles = 5
)

// AgentClient is the subset of *rpc.Client the Directory needs, narrowed to
// an interface so pkg/manager's production Dialer can return a real
// *rpc.Client and tests can substitute a fake peer without a real mTLS gRPC
// server.
type AgentClient interface {
	Discover(ctx context.Context, req rpc.DiscoverRequest) (*rpc.DiscoverReply, error)
	Ping(ctx context.Context, req rpc.PingRequest) (*rpc.PingReply, error)
	Close() error
}

// Dialer opens an AgentClient to addr. Production wiring dials real mTLS
// connections (see pkg/manager); tests substitute a fake.
type Dialer func(addr string) (AgentClient, error)

// Config parameterizes one Directory.
type Config struct {
	StartAddress net.IP
	EndAddress   net.IP
	LocalAddress net.IP
	Port         int

	DiscoverPeriodSeconds int
	PingPeriodSeconds     int
	Hierarchical          bool
}

// ringBuffer retains the last N ping samples for one peer. A sample of 0
// means that ping failed; availability is the fraction of non-zero samples
// (spec.md §9 Open Question (b)).
type ringBuffer struct {
	samples []float64
	next    int
	count   int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{samples: make([]float64, capacity)}
}

func (r *ringBuffer) push(v float64) {
	r.samples[r.next] = v
	r.next = (r.next + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
}

func (r *ringBuffer) stats() (meanRTT float64, hasRTT bool, availabilityPct float64) {
	if r.count == 0 {
		return 0, false, 0
	}
	var sum float64
	var successes int
	for i := 0; i < r.count; i++ {
		if r.samples[i] > 0 {
			sum += r.samples[i]
			successes++
		}
	}
	if successes == 0 {
		return 0, false, 0
	}
	return sum / float64(successes), true, float64(successes) / float64(r.count) * 100
}

// Directory is the Peer Directory (C8): the map of known siblings plus the
// background worker that keeps it current.
type Directory struct {
	cfg    Config
	dial   Dialer
	role   rpc.Role
	period time.Duration

	mu      stdsync.Mutex
	peers   map[int]*types.PeerEntry
	buffers map[int]*ringBuffer
	masterID *int

	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns a Directory for cfg, dialing peers with dial. Id 0 is always
// reserved for the local instance (spec.md §3).
func New(cfg Config, dial Dialer) *Directory {
	period := gcdSeconds(cfg.DiscoverPeriodSeconds, cfg.PingPeriodSeconds)
	d := &Directory{
		cfg:     cfg,
		dial:    dial,
		role:    rpc.RoleWorker,
		period:  period,
		peers:   map[int]*types.PeerEntry{0: {ID: 0, Address: cfg.LocalAddress.String(), Status: types.PeerSelf}},
		buffers: make(map[int]*ringBuffer),
	}
	if cfg.Hierarchical {
		zero := 0
		d.masterID = &zero
	}
	return d
}

func gcdSeconds(a, b int) time.Duration {
	if a <= 0 {
		a = 1
	}
	if b <= 0 {
		b = 1
	}
	for b != 0 {
		a, b = b, a%b
	}
	return time.Duration(a) * time.Second
}

// BuildIPAddresses enumerates every address from a to b inclusive, varying
// only the last octet (testable property 7 of spec.md §8). a and b must
// share the same first three octets and a's last octet must not exceed b's.
func BuildIPAddresses(a, b net.IP) ([]net.IP, error) {
	a4, b4 := a.To4(), b.To4()
	if a4 == nil || b4 == nil {
		return nil, fmt.Errorf("peer: BuildIPAddresses requires IPv4 addresses")
	}
	for i := 0; i < 3; i++ {
		if a4[i] != b4[i] {
			return nil, fmt.Errorf("peer: start/end addresses must share the first three octets")
		}
	}
	if a4[3] > b4[3] {
		return nil, fmt.Errorf("peer: start address %s is after end address %s", a, b)
	}
	out := make([]net.IP, 0, int(b4[3])-int(a4[3])+1)
	for o := int(a4[3]); o <= int(b4[3]); o++ {
		ip := make(net.IP, 4)
		copy(ip, a4)
		ip[3] = byte(o)
		out = append(out, ip)
	}
	return out, nil
}

// LocalRole implements rpc.PeerHost.
func (d *Directory) LocalRole() rpc.Role {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.role
}

// AssignID implements rpc.PeerHost: assigns addr the lowest free id >= 1,
// or returns its existing id if already known (spec.md §4.8: "add
// responding peers to the map and assign them the lowest free id >= 1").
func (d *Directory) AssignID(addr string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, p := range d.peers {
		if p.Address == addr {
			return id
		}
	}
	id := d.lowestFreeIDLocked()
	d.peers[id] = &types.PeerEntry{ID: id, Address: addr, Status: types.PeerOK}
	d.buffers[id] = newRingBuffer(PingNumber * PingCycles)
	metrics.PeersTotal.WithLabelValues(types.PeerOK.String()).Inc()
	return id
}

func (d *Directory) lowestFreeIDLocked() int {
	for id := 1; ; id++ {
		if _, taken := d.peers[id]; !taken {
			return id
		}
	}
}

// Join implements rpc.PeerHost.
func (d *Directory) Join(req rpc.JoinRequest) rpc.Status {
	if req.InstanceID == nil {
		return rpc.Failed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.peers[*req.InstanceID]; ok {
		p.Status = types.PeerOK
		return rpc.OK
	}
	return rpc.Failed
}

// Disjoin implements rpc.PeerHost.
func (d *Directory) Disjoin(req rpc.JoinRequest) rpc.Status {
	if req.InstanceID == nil {
		return rpc.Failed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, *req.InstanceID)
	delete(d.buffers, *req.InstanceID)
	return rpc.OK
}

// Entries returns a snapshot of every known peer, sorted by id.
func (d *Directory) Entries() []types.PeerEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.PeerEntry, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start launches the background discover/ping worker, ticking every
// gcd(discover_period, ping_period) seconds (spec.md §4.8).
func (d *Directory) Start(ctx context.Context) {
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	go d.run(ctx)
}

// Stop halts the worker and waits for the in-flight tick to finish.
func (d *Directory) Stop() {
	if d.stopCh == nil {
		return
	}
	close(d.stopCh)
	<-d.doneCh
}

func (d *Directory) run(ctx context.Context) {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.Tick(ctx)
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick runs one full discover+ping round (spec.md §4.8): the worker joins
// every dispatched discover/ping goroutine before returning, so ticks never
// overlap.
func (d *Directory) Tick(ctx context.Context) {
	timer := metrics.NewTimer()
	d.discoverPhase(ctx)
	timer.ObserveDuration(metrics.DiscoverDuration)
	d.pingPhase(ctx)
}

func (d *Directory) discoverPhase(ctx context.Context) {
	addrs, err := BuildIPAddresses(d.cfg.StartAddress, d.cfg.EndAddress)
	if err != nil {
		log.WithComponent("peer").Warn().Err(err).Msg("cannot enumerate discover range")
		return
	}

	type result struct {
		addr    string
		reached bool
		reply   *rpc.DiscoverReply
	}
	results := make(chan result, len(addrs))

	var wg stdsync.WaitGroup
	for _, ip := range addrs {
		if ip.Equal(d.cfg.LocalAddress) {
			continue
		}
		addr := fmt.Sprintf("%s:%d", ip.String(), d.cfg.Port)
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			dctx, cancel := context.WithTimeout(ctx, rpc.DiscoverTimeout)
			defer cancel()
			client, err := d.dial(addr)
			if err != nil {
				results <- result{addr: addr, reached: false}
				return
			}
			defer client.Close()
			reply, err := client.Discover(dctx, rpc.DiscoverRequest{CallerRole: d.LocalRole()})
			if err != nil {
				// spec.md §9 Open Question (a): timeout/error => not discovered.
				results <- result{addr: addr, reached: false}
				return
			}
			results <- result{addr: addr, reached: true, reply: reply}
		}(addr)
	}
	wg.Wait()
	close(results)

	d.mu.Lock()
	defer d.mu.Unlock()
	seen := map[string]bool{}
	var sawMaster *string
	for res := range results {
		seen[res.addr] = res.reached
		if !res.reached {
			continue
		}
		id := res.reply.AssignedID
		if existing, ok := d.peers[id]; ok {
			existing.Address = res.addr
			existing.Status = types.PeerOK
		} else {
			d.peers[id] = &types.PeerEntry{ID: id, Address: res.addr, Status: types.PeerOK}
			d.buffers[id] = newRingBuffer(PingNumber * PingCycles)
		}
		if d.cfg.Hierarchical && res.reply.RemoteRole == rpc.RoleMaster {
			addr := res.addr
			if sawMaster != nil && *sawMaster != addr {
				log.WithComponent("peer").Fatal().Str("first", *sawMaster).Str("second", addr).
					Msg("duplicate master instances discovered: fatal misconfiguration")
			}
			sawMaster = &addr
		}
	}
	for id, p := range d.peers {
		if id == 0 {
			continue
		}
		if reached, known := seen[p.Address]; known && !reached {
			delete(d.peers, id)
			delete(d.buffers, id)
		}
	}
}

func (d *Directory) pingPhase(ctx context.Context) {
	d.mu.Lock()
	ids := make([]int, 0, len(d.peers))
	addrs := make(map[int]string, len(d.peers))
	for id, p := range d.peers {
		if id == 0 {
			continue
		}
		ids = append(ids, id)
		addrs[id] = p.Address
	}
	d.mu.Unlock()

	var wg stdsync.WaitGroup
	type sample struct {
		id  int
		rtt float64 // 0 = failed
	}
	out := make(chan sample, len(ids)*PingNumber)
	for _, id := range ids {
		wg.Add(1)
		go func(id int, addr string) {
			defer wg.Done()
			client, err := d.dial(addr)
			if err != nil {
				for i := 0; i < PingNumber; i++ {
					out <- sample{id: id, rtt: 0}
				}
				return
			}
			defer client.Close()
			for i := 0; i < PingNumber; i++ {
				start := time.Now()
				pctx, cancel := context.WithTimeout(ctx, rpc.PingTimeout)
				_, err := client.Ping(pctx, rpc.PingRequest{SenderID: 0})
				cancel()
				if err != nil {
					out <- sample{id: id, rtt: 0}
					continue
				}
				out <- sample{id: id, rtt: float64(time.Since(start)) / float64(time.Millisecond)}
			}
		}(id, addrs[id])
	}
	wg.Wait()
	close(out)

	d.mu.Lock()
	defer d.mu.Unlock()
	for s := range out {
		buf, ok := d.buffers[s.id]
		if !ok {
			buf = newRingBuffer(PingNumber * PingCycles)
			d.buffers[s.id] = buf
		}
		buf.push(s.rtt)
	}
	for id, p := range d.peers {
		if id == 0 {
			continue
		}
		buf, ok := d.buffers[id]
		if !ok {
			continue
		}
		mean, hasRTT, avail := buf.stats()
		p.RTTMillis, p.HasRTT, p.Availability = mean, hasRTT, avail
		if avail == 0 && buf.count == len(buf.samples) {
			p.Status = types.PeerSlow
		} else if p.Status == types.PeerSlow && avail > 0 {
			p.Status = types.PeerOK
		}
		metrics.PeerAvailability.WithLabelValues(fmt.Sprint(id)).Set(avail)
		if hasRTT {
			metrics.PeerRTTMillis.WithLabelValues(fmt.Sprint(id)).Set(mean)
		}
	}
}
