/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics provides Prometheus instrumentation for vault operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Vault holds Prometheus metrics for Secrets Store operations. It satisfies
// vault.OperationRecorder.
type Vault struct {
	// OpsTotal counts store/get/update/delete calls by operation and outcome.
	OpsTotal *prometheus.CounterVec
	// RotationsTotal counts completed key-rotation commits.
	RotationsTotal prometheus.Counter
	// RotationDuration tracks how long a rotation commit took.
	RotationDuration prometheus.Histogram
	// RotationSecretsTotal counts rows considered and rows rotated across
	// all rotations, by outcome.
	RotationSecretsTotal *prometheus.CounterVec
}

// NewVault creates and registers vault metrics on the default registerer.
func NewVault() *Vault {
	return &Vault{
		OpsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_operations_total",
			Help: "Total number of vault operations by operation and outcome",
		}, []string{"operation", "outcome"}),

		RotationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_rotations_total",
			Help: "Total number of completed key-rotation commits",
		}),

		RotationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_rotation_duration_seconds",
			Help:    "Duration of key-rotation commits",
			Buckets: prometheus.DefBuckets,
		}),

		RotationSecretsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_rotation_secrets_total",
			Help: "Total number of secrets considered or rotated during key rotation",
		}, []string{"outcome"}),
	}
}

// NewVaultWithRegistry creates vault metrics registered on reg instead of
// the default registerer, for tests that need an isolated registry.
func NewVaultWithRegistry(reg *prometheus.Registry) *Vault {
	factory := promauto.With(reg)
	return &Vault{
		OpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_operations_total",
			Help: "Total number of vault operations by operation and outcome",
		}, []string{"operation", "outcome"}),

		RotationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_rotations_total",
			Help: "Total number of completed key-rotation commits",
		}),

		RotationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_rotation_duration_seconds",
			Help:    "Duration of key-rotation commits",
			Buckets: prometheus.DefBuckets,
		}),

		RotationSecretsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_rotation_secrets_total",
			Help: "Total number of secrets considered or rotated during key rotation",
		}, []string{"outcome"}),
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveStore records the outcome of a Store call.
func (v *Vault) ObserveStore(ok bool) { v.OpsTotal.WithLabelValues("store", outcome(ok)).Inc() }

// ObserveGet records the outcome of a Get call.
func (v *Vault) ObserveGet(ok bool) { v.OpsTotal.WithLabelValues("get", outcome(ok)).Inc() }

// ObserveUpdate records the outcome of an Update call.
func (v *Vault) ObserveUpdate(ok bool) { v.OpsTotal.WithLabelValues("update", outcome(ok)).Inc() }

// ObserveDelete records the outcome of a Delete call.
func (v *Vault) ObserveDelete(ok bool) { v.OpsTotal.WithLabelValues("delete", outcome(ok)).Inc() }

// ObserveRotation records a completed rotation's size and duration.
func (v *Vault) ObserveRotation(total, rotated int64, d time.Duration) {
	v.RotationsTotal.Inc()
	v.RotationDuration.Observe(d.Seconds())
	v.RotationSecretsTotal.WithLabelValues("considered").Add(float64(total))
	v.RotationSecretsTotal.WithLabelValues("rotated").Add(float64(rotated))
}
