package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"rewardnet/core/events"
)

func capturedLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func TestEventEmitterLogsAndCounts(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewEventEmitter(capturedLogger(&buf))

	plansBefore := testutil.ToFloat64(Engine().plans)
	accrualsBefore := testutil.ToFloat64(Engine().accruals.WithLabelValues("REFR"))
	grantsBefore := testutil.ToFloat64(Engine().grants.WithLabelValues("REFR"))

	var id [32]byte
	id[31] = 0xAA
	emitter.Emit(events.RewardPlanCreated{
		ID:        id,
		Name:      "referrals",
		Threshold: 5,
		Asset:     "REFR",
	})
	emitter.Emit(events.RewardAccrued{
		ID:      id,
		User:    []byte{0x44},
		Asset:   "REFR",
		Amount:  1,
		Granted: true,
		Balance: big.NewInt(1),
	})
	emitter.Emit(events.RewardPlanEnded{ID: id, Name: "referrals"})

	require.Equal(t, plansBefore+1, testutil.ToFloat64(Engine().plans))
	require.Equal(t, accrualsBefore+1, testutil.ToFloat64(Engine().accruals.WithLabelValues("REFR")))
	require.Equal(t, grantsBefore+1, testutil.ToFloat64(Engine().grants.WithLabelValues("REFR")))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[1], &entry))
	require.Equal(t, "reward accrued", entry["msg"])
	require.Equal(t, "REFR", entry["asset"])
	require.Equal(t, true, entry["granted"])
}

func TestEventEmitterTolerantOfNil(t *testing.T) {
	emitter := NewEventEmitter(nil)
	require.NotPanics(t, func() {
		emitter.Emit(nil)
		var nilEmitter *EventEmitter
		nilEmitter.Emit(events.RewardPlanEnded{})
	})
}

func TestLabelAsset(t *testing.T) {
	require.Equal(t, "REFR", labelAsset(" refr "))
	require.Equal(t, "UNKNOWN", labelAsset("  "))
}
