// Package testutil provides flow record generators for various traffic
// topologies. All generators produce deterministic output for reproducible tests.
package testutil

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/vanderheijden86/flowgraph/pkg/model"
)

// FlowFixture is a generated set of flow records with the counts a correct
// graph build must reproduce.
type FlowFixture struct {
	Description string
	Records     []model.FlowRecord
	Hosts       int // distinct addresses
	Anomalous   int // records whose byte sum is NaN
}

// GeneratorConfig controls record generation.
type GeneratorConfig struct {
	Seed        int64   // Random seed for determinism (0 = use 42)
	AddrPrefix  string  // Address prefix (default: "10.0.")
	AnomalyRate float64 // Fraction of records with a non-numeric byte cell
	EventRate   float64 // Fraction of records with events > 0
}

// DefaultConfig returns a config suitable for most tests.
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		Seed:       42,
		AddrPrefix: "10.0.",
		EventRate:  0.2,
	}
}

// Generator creates flow fixtures with various topologies.
type Generator struct {
	cfg GeneratorConfig
	rng *rand.Rand
}

// New creates a Generator with the given config.
func New(cfg GeneratorConfig) *Generator {
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	if cfg.AddrPrefix == "" {
		cfg.AddrPrefix = "10.0."
	}
	return &Generator{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// NewDefault creates a Generator with default config.
func NewDefault() *Generator {
	return New(DefaultConfig())
}

// Addr returns the address of host i.
func (g *Generator) Addr(i int) string {
	return fmt.Sprintf("%s%d.%d", g.cfg.AddrPrefix, i/256, i%256)
}

// ============================================================================
// Topology Generators
// ============================================================================

// Star creates one flow from each of `clients` hosts to a single server.
func (g *Generator) Star(clients int) FlowFixture {
	server := g.Addr(0)
	f := FlowFixture{
		Description: fmt.Sprintf("Star: %d clients -> 1 server", clients),
		Hosts:       clients + 1,
	}
	for i := 1; i <= clients; i++ {
		f.add(g.record(g.Addr(i), server))
	}
	return f
}

// FanOut creates one flow from a single client to each of `servers` hosts.
func (g *Generator) FanOut(servers int) FlowFixture {
	client := g.Addr(0)
	f := FlowFixture{
		Description: fmt.Sprintf("Fan-out: 1 client -> %d servers", servers),
		Hosts:       servers + 1,
	}
	for i := 1; i <= servers; i++ {
		f.add(g.record(client, g.Addr(i)))
	}
	return f
}

// Chain creates flows h0 -> h1 -> ... -> h{size-1}. Every interior host is
// first seen as a server, so only h0 is a client.
func (g *Generator) Chain(size int) FlowFixture {
	f := FlowFixture{
		Description: fmt.Sprintf("Chain of %d hosts", size),
		Hosts:       size,
	}
	for i := 0; i+1 < size; i++ {
		f.add(g.record(g.Addr(i), g.Addr(i+1)))
	}
	if size == 1 {
		f.Hosts = 0
	}
	return f
}

// Mesh creates a flow between every ordered pair of distinct hosts.
func (g *Generator) Mesh(size int) FlowFixture {
	f := FlowFixture{
		Description: fmt.Sprintf("Full mesh of %d hosts", size),
		Hosts:       size,
	}
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			if i != j {
				f.add(g.record(g.Addr(i), g.Addr(j)))
			}
		}
	}
	if size < 2 {
		f.Hosts = 0
	}
	return f
}

// Repeated creates `count` parallel flows between the same two hosts.
func (g *Generator) Repeated(count int) FlowFixture {
	f := FlowFixture{
		Description: fmt.Sprintf("%d parallel flows between two hosts", count),
	}
	for i := 0; i < count; i++ {
		f.add(g.record(g.Addr(0), g.Addr(1)))
	}
	if count > 0 {
		f.Hosts = 2
	}
	return f
}

// Random creates `rows` flows between endpoints drawn from `hosts` addresses.
// Self flows are allowed.
func (g *Generator) Random(rows, hosts int) FlowFixture {
	f := FlowFixture{
		Description: fmt.Sprintf("Random: %d flows over %d hosts", rows, hosts),
	}
	if hosts <= 0 {
		return f
	}
	seen := make(map[string]struct{})
	for i := 0; i < rows; i++ {
		c, s := g.Addr(g.rng.Intn(hosts)), g.Addr(g.rng.Intn(hosts))
		seen[c] = struct{}{}
		seen[s] = struct{}{}
		f.add(g.record(c, s))
	}
	f.Hosts = len(seen)
	return f
}

func (f *FlowFixture) add(r model.FlowRecord) {
	r.Line = len(f.Records) + 2 // header is line 1
	f.Records = append(f.Records, r)
	if r.ClientBytes.Kind == model.MeasureText || r.ServerBytes.Kind == model.MeasureText {
		f.Anomalous++
	}
}

func (g *Generator) record(client, server string) model.FlowRecord {
	r := model.FlowRecord{
		ClientAddr:  client,
		ServerAddr:  server,
		ClientBytes: model.Num(float64(g.rng.Intn(100000))),
		ServerBytes: model.Num(float64(g.rng.Intn(1000000))),
		Events:      model.Num(0),
	}
	if g.cfg.EventRate > 0 && g.rng.Float64() < g.cfg.EventRate {
		r.Events = model.Num(float64(1 + g.rng.Intn(9)))
	}
	if g.cfg.AnomalyRate > 0 && g.rng.Float64() < g.cfg.AnomalyRate {
		r.ServerBytes = model.Text("N/A")
	}
	return r
}

// ============================================================================
// Serialization
// ============================================================================

// ToCSV renders records as flow CSV text with the standard header.
func ToCSV(records []model.FlowRecord) string {
	var sb strings.Builder
	sb.WriteString("Client Addr,Server Addr,Client Bytes,Server Bytes,Events\n")
	for _, r := range records {
		fmt.Fprintf(&sb, "%s,%s,%s,%s,%s\n",
			r.ClientAddr, r.ServerAddr, cell(r.ClientBytes), cell(r.ServerBytes), cell(r.Events))
	}
	return sb.String()
}

func cell(m model.Measure) string {
	if m.Kind == model.MeasureText {
		return m.Raw
	}
	return m.String()
}

// ============================================================================
// Convenience Functions
// ============================================================================

// QuickStar creates a star fixture with default settings.
func QuickStar(clients int) FlowFixture {
	return NewDefault().Star(clients)
}

// QuickChain creates a chain fixture with default settings.
func QuickChain(size int) FlowFixture {
	return NewDefault().Chain(size)
}

// QuickRandom creates a random fixture with default settings and the given
// anomaly rate.
func QuickRandom(rows, hosts int, anomalyRate float64) FlowFixture {
	cfg := DefaultConfig()
	cfg.AnomalyRate = anomalyRate
	return New(cfg).Random(rows, hosts)
}
