package db

import (
	"encoding/json"
	"testing"
)

type gaugeMap map[string]int64

func (g gaugeMap) SetGauge(name string, v int64) { g[name] = v }

func TestPoolStats_JSON(t *testing.T) {
	b, err := json.Marshal(&PoolStats{TotalConns: 4, IdleConns: 3, AcquiredConns: 1, MaxConns: 10, Healthy: true})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]interface{}
	_ = json.Unmarshal(b, &got)
	for _, key := range []string{"total_conns", "idle_conns", "acquired_conns", "max_conns", "acquire_count", "acquire_duration", "healthy"} {
		if _, ok := got[key]; !ok {
			t.Errorf("missing %s in %s", key, b)
		}
	}
}

func TestRecordPoolStats(t *testing.T) {
	sink := gaugeMap{}
	recordPoolStats(&PoolStats{TotalConns: 4, IdleConns: 3, AcquiredConns: 1}, sink)
	if sink["db_pool_total_connections"] != 4 || sink["db_pool_idle_connections"] != 3 || sink["db_pool_acquired_connections"] != 1 {
		t.Errorf("unexpected gauges %v", sink)
	}
}
