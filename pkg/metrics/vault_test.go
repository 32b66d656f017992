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

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := &dto.Metric{}
	require.NoError(t, (<-ch).Write(m))
	return m.GetCounter().GetValue()
}

func TestVault_ObserveStoreIncrementsOpsTotal(t *testing.T) {
	reg := prometheus.NewRegistry()
	v := NewVaultWithRegistry(reg)

	v.ObserveStore(true)
	v.ObserveStore(false)

	assert := require.New(t)
	assert.Equal(float64(1), counterValue(t, v.OpsTotal.WithLabelValues("store", "success")))
	assert.Equal(float64(1), counterValue(t, v.OpsTotal.WithLabelValues("store", "failure")))
}

func TestVault_ObserveRotationRecordsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	v := NewVaultWithRegistry(reg)

	v.ObserveRotation(10, 7, 50*time.Millisecond)

	require.Equal(t, float64(1), counterValue(t, v.RotationsTotal))
	require.Equal(t, float64(10), counterValue(t, v.RotationSecretsTotal.WithLabelValues("considered")))
	require.Equal(t, float64(7), counterValue(t, v.RotationSecretsTotal.WithLabelValues("rotated")))
}
