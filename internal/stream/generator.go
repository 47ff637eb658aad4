// Package stream produces synthetic transaction events with
// scenario-driven failure and latency distributions. The remediation core
// only depends on the Source interface it satisfies.
package stream

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/tiger/payment-ops-agent/api/remediation"
)

// Scenario labels a degradation profile the generator can emulate.
type Scenario string

const (
	ScenarioNormal      Scenario = "normal"
	ScenarioIssuerDown  Scenario = "issuer_down"
	ScenarioNetworkSlow Scenario = "network_slow"
	ScenarioRetryStorm  Scenario = "retry_storm"
)

type profile struct {
	failureRate   float64
	latencyMeanMS float64
	latencyStdMS  float64
}

var profiles = map[Scenario]profile{
	ScenarioNormal:      {failureRate: 0.02, latencyMeanMS: 800, latencyStdMS: 200},
	ScenarioIssuerDown:  {failureRate: 0.35, latencyMeanMS: 2500, latencyStdMS: 800},
	ScenarioNetworkSlow: {failureRate: 0.08, latencyMeanMS: 3000, latencyStdMS: 1200},
	ScenarioRetryStorm:  {failureRate: 0.15, latencyMeanMS: 1200, latencyStdMS: 400},
}

var errorCodes = []string{"ISSUER_DOWN", "TIMEOUT", "INSUFFICIENT_FUNDS", "INVALID_CARD", "NETWORK_ERROR"}

// minLatencyMS floors generated latencies.
const minLatencyMS = 100

// Generator is a deterministic-by-seed synthetic event source. Scenario
// injection may arrive from a control surface while the controller pulls
// batches, so all state sits behind one mutex.
type Generator struct {
	mu sync.Mutex

	rng      *rand.Rand
	scenario Scenario
	target   string
	counter  int64

	banks        []string
	issuers      []string
	merchants    []string
	routingPaths []string

	Now func() time.Time
}

// NewGenerator seeds a generator. The same seed reproduces the same stream
// for a fixed call sequence.
func NewGenerator(seed int64) *Generator {
	merchants := make([]string, 0, 20)
	for i := 1; i <= 20; i++ {
		merchants = append(merchants, fmt.Sprintf("MERCHANT_%03d", i))
	}
	return &Generator{
		rng:          rand.New(rand.NewSource(seed)),
		scenario:     ScenarioNormal,
		banks:        []string{"HDFC", "ICICI", "SBI", "AXIS", "KOTAK"},
		issuers:      []string{"HDFC_ISSUER", "ICICI_ISSUER", "SBI_ISSUER", "VISA", "MASTERCARD"},
		merchants:    merchants,
		routingPaths: []string{"primary", "secondary", "fallback"},
		Now:          time.Now,
	}
}

// Inject switches the generator into a degradation scenario, optionally
// confined to one issuer or bank. An empty target degrades all traffic.
func (g *Generator) Inject(scenario Scenario, target string) error {
	if _, ok := profiles[scenario]; !ok {
		return fmt.Errorf("unknown scenario %q", scenario)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scenario = scenario
	g.target = target
	return nil
}

// Clear resets the generator to the normal traffic profile.
func (g *Generator) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scenario = ScenarioNormal
	g.target = ""
}

// Active returns the current scenario and its target.
func (g *Generator) Active() (Scenario, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.scenario, g.target
}

// Events yields n fresh events under the active scenario.
func (g *Generator) Events(n int) ([]remediation.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	events := make([]remediation.Event, 0, n)
	for i := 0; i < n; i++ {
		g.counter++
		events = append(events, g.generateLocked())
	}
	return events, nil
}

func (g *Generator) generateLocked() remediation.Event {
	method := remediation.PaymentMethods()[g.rng.Intn(4)]
	bank := g.banks[g.rng.Intn(len(g.banks))]
	issuer := g.issuers[g.rng.Intn(len(g.issuers))]

	active := profiles[g.scenario]
	affected := g.target == "" || g.target == issuer || g.target == bank
	if !affected {
		active = profiles[ScenarioNormal]
	}

	status := remediation.StatusSuccess
	errorCode := ""
	retries := 0
	if g.rng.Float64() < active.failureRate {
		status = remediation.StatusFailed
		errorCode = errorCodes[g.rng.Intn(len(errorCodes))]
		retries = g.rng.Intn(4)
	}

	latency := g.rng.NormFloat64()*active.latencyStdMS + active.latencyMeanMS
	if latency < minLatencyMS {
		latency = minLatencyMS
	}

	return remediation.Event{
		TransactionID: fmt.Sprintf("TXN_%08d", g.counter),
		Timestamp:     g.now(),
		MerchantID:    g.merchants[g.rng.Intn(len(g.merchants))],
		Amount:        100 + g.rng.Float64()*49900,
		Method:        method,
		BankCode:      bank,
		Issuer:        issuer,
		Status:        status,
		ErrorCode:     errorCode,
		LatencyMS:     latency,
		RetryCount:    retries,
		RoutingPath:   g.routingPaths[g.rng.Intn(len(g.routingPaths))],
	}
}

func (g *Generator) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

// Scenarios lists the supported scenario labels.
func Scenarios() []Scenario {
	return []Scenario{ScenarioNormal, ScenarioIssuerDown, ScenarioNetworkSlow, ScenarioRetryStorm}
}
