package jobs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"visitrack/internal/analytics"
	"visitrack/internal/insights"
	"visitrack/internal/testsupport"
	"visitrack/internal/visitors"
)

var clockNow = time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)

type fixture struct {
	db       *gorm.DB
	engine   *analytics.Engine
	recorder *testsupport.MailRecorder
	service  *insights.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testsupport.SetupTestDB(t)
	testsupport.CleanAllTables(db)

	store := visitors.NewStore(db, testsupport.GetLogger())
	engine := analytics.NewEngine(store, time.UTC, testsupport.FixedClock(clockNow))
	recorder := testsupport.NewMailRecorder()
	collector := insights.NewCollector(engine, testsupport.GetLogger())
	return &fixture{
		db:       db,
		engine:   engine,
		recorder: recorder,
		service:  insights.NewService("visitrack", collector, recorder, testsupport.GetLogger()),
	}
}

func waitForMessages(t *testing.T, r *testsupport.MailRecorder, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.Messages()) >= n
	}, 5*time.Second, 50*time.Millisecond)
}
