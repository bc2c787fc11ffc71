// Copyright 2025 The DAGForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerDisabledReturnsNoop(t *testing.T) {
	tp, shutdown, err := InitTracer(context.Background(), TracerConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracerEnabledBuildsProvider(t *testing.T) {
	tp, shutdown, err := InitTracer(context.Background(), TracerConfig{Enabled: true, ServiceName: "dagforge-test", SamplingRate: 1})
	require.NoError(t, err)
	require.NotNil(t, tp)
	defer shutdown(context.Background())

	tracer := tp.Tracer("test")
	_, span := tracer.Start(context.Background(), "dagforge.task.execute")
	span.End()
}

func TestMetricsRecordTaskAndLayer(t *testing.T) {
	m := NewMetrics("dagforge_test")
	m.RecordTask("success", 10*time.Millisecond)
	m.RecordTask("error", 5*time.Millisecond)
	m.RecordLayer(50 * time.Millisecond)
	m.RecordEscalation()
	m.RecordEvent("task.completed")
	m.SetHandlerCount(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "dagforge_test_scheduler_tasks_total")
	assert.Contains(t, rec.Body.String(), "dagforge_test_eventbus_events_emitted_total")
}

func TestNilMetricsMethodsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTask("success", time.Millisecond)
		m.RecordLayer(time.Millisecond)
		m.RecordEscalation()
		m.RecordEvent("x")
		m.SetHandlerCount(1)
		_ = m.Handler()
		_ = m.Registry()
	})
}
