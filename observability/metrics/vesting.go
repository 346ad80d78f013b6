package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type VestingMetrics struct {
	schedulesCreated prometheus.Counter
	grantsCreated    prometheus.Counter
	claims           *prometheus.CounterVec
	tokensClaimed    *prometheus.CounterVec
	grantedAmount    *prometheus.CounterVec
}

var (
	vestingOnce     sync.Once
	vestingRegistry *VestingMetrics
)

func Vesting() *VestingMetrics {
	vestingOnce.Do(func() {
		vestingRegistry = &VestingMetrics{
			schedulesCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "vesting_schedules_created_total",
				Help: "Number of vesting schedules created.",
			}),
			grantsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "vesting_grants_created_total",
				Help: "Number of beneficiary grants created.",
			}),
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vesting_claims_total",
				Help: "Claim attempts by outcome.",
			}, []string{"outcome"}),
			tokensClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vesting_tokens_claimed_total",
				Help: "Base units released to beneficiaries per asset.",
			}, []string{"asset"}),
			grantedAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vesting_tokens_granted_total",
				Help: "Base units promised to beneficiaries per asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			vestingRegistry.schedulesCreated,
			vestingRegistry.grantsCreated,
			vestingRegistry.claims,
			vestingRegistry.tokensClaimed,
			vestingRegistry.grantedAmount,
		)
	})
	return vestingRegistry
}

func (m *VestingMetrics) ObserveScheduleCreated() {
	if m == nil {
		return
	}
	m.schedulesCreated.Inc()
}

func (m *VestingMetrics) ObserveGrantCreated(asset string, amount uint64) {
	if m == nil {
		return
	}
	m.grantsCreated.Inc()
	m.grantedAmount.WithLabelValues(labelOrUnknown(asset)).Add(float64(amount))
}

// ObserveClaim records a claim attempt. outcome is "ok" for a transfer or the
// error code of the failure.
func (m *VestingMetrics) ObserveClaim(outcome, asset string, amount uint64) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(labelOrUnknown(outcome)).Inc()
	if amount > 0 {
		m.tokensClaimed.WithLabelValues(labelOrUnknown(asset)).Add(float64(amount))
	}
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
