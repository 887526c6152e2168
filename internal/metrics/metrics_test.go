// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	CacheEvictions.WithLabelValues("demo/key").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(CacheEvictions.WithLabelValues("demo/key")))

	MissedSamplesTotal.WithLabelValues("01/1").Add(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(MissedSamplesTotal.WithLabelValues("01/1")))
}
