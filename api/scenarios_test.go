package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/store/sqlite"
)

func TestScenarios_AllLoadCleanly(t *testing.T) {
	// GIVEN: Each scenario
	// WHEN: Loaded into a fresh SQLite store
	// THEN: The load succeeds and the audit finds no drift

	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			st, err := sqlite.New(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { st.Close() })

			h := NewHandler(ledger.NewEngine(st), zerolog.Nop())
			require.NoError(t, h.LoadScenarioByID(context.Background(), sc.ID))

			report, err := h.Auditor.Run(context.Background())
			require.NoError(t, err)
			assert.True(t, report.OK(), "drifts: %+v %+v", report.Drifts, report.PendingDrifts)
		})
	}
}

func TestScenarios_ReloadResets(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "hardware-store"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "hardware-store"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// 500 received, 120 moved to the yard, 200 sold
	assert.True(t, n("180").Equal(s.balance("bolt-m8", "main")))
	assert.True(t, n("120").Equal(s.balance("bolt-m8", "yard")))

	rec = s.do(http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hardware-store", decodeAs[ScenarioDTO](t, rec).ID)

	rec = s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]ScenarioDTO](t, rec), len(scenarios))
}

func TestScenarios_ToolLoansPending(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.handler.LoadScenarioByID(context.Background(), "tool-loans"))

	rec := s.do(http.MethodGet, "/api/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeAs[[]PendingLineDTO](t, rec)
	require.Len(t, pending, 1)
	assert.Equal(t, "DO-0001", pending[0].Reference)
	assert.True(t, n("4").Equal(pending[0].Pending))
	assert.True(t, n("8").Equal(s.balance("drill", "main")))
}

func TestAuditScheduler_PublishesReport(t *testing.T) {
	s := newTestServer(t)
	sched := NewAuditScheduler(s.handler)
	sched.CheckInterval = time.Hour

	sched.Start()
	require.Eventually(t, func() bool {
		s.handler.mu.Lock()
		defer s.handler.mu.Unlock()
		return s.handler.lastAudit != nil
	}, 2*time.Second, 10*time.Millisecond)
	sched.Stop()
	sched.Stop()

	rec := s.do(http.MethodGet, "/api/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeAs[AuditReportDTO](t, rec).OK)
}

func TestAuditScheduler_Disabled(t *testing.T) {
	s := newTestServer(t)
	sched := NewAuditScheduler(s.handler)
	sched.Enabled = false

	sched.Start()
	sched.Stop()

	s.handler.mu.Lock()
	defer s.handler.mu.Unlock()
	assert.Nil(t, s.handler.lastAudit)
}
