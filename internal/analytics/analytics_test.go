package analytics_test

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"visitrack/internal/analytics"
	"visitrack/internal/testsupport"
	"visitrack/internal/timeframe"
	"visitrack/internal/visitors"
)

var now = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func at(month time.Month, day, hour, min int) time.Time {
	return time.Date(2024, month, day, hour, min, 0, 0, time.UTC)
}

// seed stores six visitors over two projects:
//
//	blog  4.4.4.4  2024-02-10 08:00  first stored
//	blog  1.1.1.1  2024-03-14 10:00  Mobile
//	blog  2.2.2.2  2024-03-14 18:00
//	blog  3.3.3.3  2024-03-15 09:00
//	shop  1.1.1.1  2024-03-15 11:58  active now
//	shop  5.5.5.5  2024-01-07 10:00  a Sunday
func seed(t *testing.T) (*analytics.Engine, *gorm.DB) {
	t.Helper()
	db := testsupport.SetupTestDB(t)
	testsupport.CleanAllTables(db)

	testsupport.CreateVisitor(t, db, "4.4.4.4", "blog", at(time.February, 10, 8, 0),
		testsupport.WithUserAgent("Firefox 121.0 / Linux"),
		testsupport.WithBrowser("Firefox 121.0"),
		testsupport.WithLocation("Berlin, Germany"))
	testsupport.CreateVisitor(t, db, "1.1.1.1", "blog", at(time.March, 14, 10, 0),
		testsupport.WithDevice("Mobile"),
		testsupport.WithLocation("Madrid, Spain"))
	testsupport.CreateVisitor(t, db, "2.2.2.2", "blog", at(time.March, 14, 18, 0),
		testsupport.WithLocation("Madrid, Spain"))
	testsupport.CreateVisitor(t, db, "3.3.3.3", "blog", at(time.March, 15, 9, 0))
	testsupport.CreateVisitor(t, db, "1.1.1.1", "shop", at(time.March, 15, 11, 58),
		testsupport.WithBrowser("Safari 17.2"))
	testsupport.CreateVisitor(t, db, "5.5.5.5", "shop", at(time.January, 7, 10, 0))

	store := visitors.NewStore(db, testsupport.GetLogger())
	return analytics.NewEngine(store, time.UTC, testsupport.FixedClock(now)), db
}

func TestUniqueCount(t *testing.T) {
	ctx := context.Background()
	engine, _ := seed(t)

	t.Run("Counts one project", func(t *testing.T) {
		n, err := engine.UniqueCount(ctx, "blog")
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
	})

	t.Run("All equals the sum over every project", func(t *testing.T) {
		all, err := engine.UniqueCount(ctx, visitors.AllProjects)
		require.NoError(t, err)

		projects, err := engine.Projects(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"blog", "shop"}, projects)

		var sum int64
		for _, p := range projects {
			n, err := engine.UniqueCount(ctx, p)
			require.NoError(t, err)
			sum += n
		}
		assert.Equal(t, sum, all)
	})

	t.Run("The sentinel is case sensitive", func(t *testing.T) {
		n, err := engine.UniqueCount(ctx, "all")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Empty project is rejected", func(t *testing.T) {
		_, err := engine.UniqueCount(ctx, "")
		assert.ErrorIs(t, err, visitors.ErrInvalidIdentity)
	})
}

func TestTotalVisits(t *testing.T) {
	ctx := context.Background()
	engine, _ := seed(t)

	expected := []analytics.ProjectTotal{
		{ProjectName: "blog", UniqueVisitors: 4},
		{ProjectName: "shop", UniqueVisitors: 2},
	}

	totals, err := engine.TotalVisits(ctx)
	require.NoError(t, err)
	assert.Equal(t, expected, totals)

	growth, err := engine.Growth(ctx)
	require.NoError(t, err)
	assert.Equal(t, totals, growth)
}

func TestTrend(t *testing.T) {
	ctx := context.Background()
	engine, _ := seed(t)

	t.Run("Daily buckets are ascending days", func(t *testing.T) {
		buckets, err := engine.Trend(ctx, "blog", analytics.Daily)
		require.NoError(t, err)
		assert.Equal(t, []analytics.TrendBucket{
			{Bucket: "2024-02-10", Count: 1},
			{Bucket: "2024-03-14", Count: 2},
			{Bucket: "2024-03-15", Count: 1},
		}, buckets)
	})

	t.Run("Daily buckets add up to the unique count", func(t *testing.T) {
		for _, project := range []string{"blog", "shop", visitors.AllProjects} {
			buckets, err := engine.Trend(ctx, project, analytics.Daily)
			require.NoError(t, err)
			var sum int64
			for _, b := range buckets {
				sum += b.Count
			}
			n, err := engine.UniqueCount(ctx, project)
			require.NoError(t, err)
			assert.Equal(t, n, sum, project)
		}
	})

	t.Run("Weekly buckets are Sunday based week numbers", func(t *testing.T) {
		buckets, err := engine.Trend(ctx, "blog", analytics.Weekly)
		require.NoError(t, err)
		assert.Equal(t, []analytics.TrendBucket{
			{Bucket: 5, Count: 1},
			{Bucket: 10, Count: 3},
		}, buckets)

		shop, err := engine.Trend(ctx, "shop", analytics.Weekly)
		require.NoError(t, err)
		assert.Equal(t, 1, shop[0].Bucket, "the first Sunday of the year opens week 1")
	})

	t.Run("Monthly buckets are month numbers", func(t *testing.T) {
		buckets, err := engine.Trend(ctx, "blog", analytics.Monthly)
		require.NoError(t, err)
		assert.Equal(t, []analytics.TrendBucket{
			{Bucket: 2, Count: 1},
			{Bucket: 3, Count: 3},
		}, buckets)
	})

	t.Run("Unknown periods are rejected", func(t *testing.T) {
		_, err := analytics.ParsePeriod("yearly")
		assert.ErrorIs(t, err, analytics.ErrInvalidPeriod)

		_, err = engine.Trend(ctx, "blog", analytics.Period("yearly"))
		assert.ErrorIs(t, err, analytics.ErrInvalidPeriod)
	})
}

func TestMonthlyGrowth(t *testing.T) {
	engine, _ := seed(t)

	points, err := engine.MonthlyGrowth(context.Background(), visitors.AllProjects)
	require.NoError(t, err)
	assert.Equal(t, []analytics.GrowthPoint{
		{Month: "2024-01", Count: 1},
		{Month: "2024-02", Count: 1},
		{Month: "2024-03", Count: 4},
	}, points)
}

func TestDailyActiveUsers(t *testing.T) {
	ctx := context.Background()
	engine, _ := seed(t)

	t.Run("Defaults to the last thirty days", func(t *testing.T) {
		report, err := engine.DailyActiveUsers(ctx, "blog", "", "")
		require.NoError(t, err)

		assert.Equal(t, analytics.DauPeriod{StartDate: "2024-02-14", EndDate: "2024-03-15"}, report.Period)
		assert.Equal(t, []analytics.DauPoint{
			{Date: "2024-03-14", UniqueVisitors: 2},
			{Date: "2024-03-15", UniqueVisitors: 1},
		}, report.DailyActiveUsers)
	})

	t.Run("Explicit days are inclusive", func(t *testing.T) {
		report, err := engine.DailyActiveUsers(ctx, "blog", "2024-02-10", "2024-02-10")
		require.NoError(t, err)
		assert.Equal(t, []analytics.DauPoint{{Date: "2024-02-10", UniqueVisitors: 1}}, report.DailyActiveUsers)
	})

	t.Run("The same address in two projects counts once per day under All", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CreateVisitor(t, db, "1.1.1.1", "docs", at(time.March, 15, 10, 0))

		report, err := engine.DailyActiveUsers(ctx, visitors.AllProjects, "2024-03-15", "2024-03-15")
		require.NoError(t, err)
		// 3.3.3.3, plus 1.1.1.1 seen in both shop and docs
		assert.Equal(t, []analytics.DauPoint{{Date: "2024-03-15", UniqueVisitors: 2}}, report.DailyActiveUsers)
	})

	t.Run("Malformed dates are rejected", func(t *testing.T) {
		_, err := engine.DailyActiveUsers(ctx, "blog", "2024-02-30", "")
		assert.ErrorIs(t, err, analytics.ErrInvalidDateFormat)
	})

	t.Run("Series fills empty days", func(t *testing.T) {
		series, err := engine.DailySeries(ctx, "blog", 3)
		require.NoError(t, err)
		require.Len(t, series, 3)
		assert.Equal(t, "2024-03-13", series[0].Date)
		assert.Equal(t, int64(0), series[0].Count)
		assert.Equal(t, int64(2), series[1].Count)
	})
}

func TestLocalZoneBuckets(t *testing.T) {
	ctx := context.Background()
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	db := testsupport.SetupTestDB(t)
	testsupport.CleanAllTables(db)
	// 19:00 on the 15th and 23:00 on the 14th in Los Angeles
	testsupport.CreateVisitor(t, db, "1.1.1.1", "blog", at(time.March, 16, 2, 0))
	testsupport.CreateVisitor(t, db, "2.2.2.2", "blog", at(time.March, 15, 6, 0))
	// 20:00 on March 31st in Los Angeles
	testsupport.CreateVisitor(t, db, "3.3.3.3", "blog", at(time.April, 1, 3, 0))

	clock := testsupport.FixedClock(at(time.March, 16, 3, 0))
	engine := analytics.NewEngine(visitors.NewStore(db, testsupport.GetLogger()), loc, clock)

	t.Run("Daily actives fall on the local day", func(t *testing.T) {
		report, err := engine.DailyActiveUsers(ctx, "blog", "2024-03-15", "2024-03-15")
		require.NoError(t, err)
		assert.Equal(t, analytics.DauPeriod{StartDate: "2024-03-15", EndDate: "2024-03-15"}, report.Period)
		assert.Equal(t, []analytics.DauPoint{{Date: "2024-03-15", UniqueVisitors: 1}}, report.DailyActiveUsers)
	})

	t.Run("The daily series keeps late evening visits", func(t *testing.T) {
		series, err := engine.DailySeries(ctx, "blog", 2)
		require.NoError(t, err)
		assert.Equal(t, []timeframe.DateStat{
			{Date: "2024-03-14", Count: 1},
			{Date: "2024-03-15", Count: 1},
		}, series)
	})

	t.Run("Trend days are local days", func(t *testing.T) {
		buckets, err := engine.Trend(ctx, "blog", analytics.Daily)
		require.NoError(t, err)
		assert.Equal(t, []analytics.TrendBucket{
			{Bucket: "2024-03-14", Count: 1},
			{Bucket: "2024-03-15", Count: 1},
			{Bucket: "2024-03-31", Count: 1},
		}, buckets)
	})

	t.Run("Monthly growth uses the local month", func(t *testing.T) {
		points, err := engine.MonthlyGrowth(ctx, "blog")
		require.NoError(t, err)
		assert.Equal(t, []analytics.GrowthPoint{{Month: "2024-03", Count: 3}}, points)
	})
}

func TestActiveNow(t *testing.T) {
	ctx := context.Background()
	engine, _ := seed(t)

	active, err := engine.ActiveNow(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "shop", active[0].ProjectName)

	wider, err := engine.ActiveNow(ctx, 4*time.Hour)
	require.NoError(t, err)
	assert.Len(t, wider, 2)

	defaulted, err := engine.ActiveNow(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, defaulted, 1)
}

func TestTopN(t *testing.T) {
	ctx := context.Background()
	engine, _ := seed(t)

	t.Run("Groups every visitor by the dimension", func(t *testing.T) {
		devices, err := engine.TopN(ctx, analytics.DimensionDevice)
		require.NoError(t, err)
		assert.ElementsMatch(t, []analytics.TopNEntry{
			{Value: "Desktop", Count: 5},
			{Value: "Mobile", Count: 1},
		}, devices)
	})

	t.Run("Sorting ranks by count and truncates", func(t *testing.T) {
		locations, err := engine.TopN(ctx, analytics.DimensionLocation)
		require.NoError(t, err)

		top := analytics.SortTopN(locations, 2)
		assert.Equal(t, []analytics.TopNEntry{
			{Value: "Unknown", Count: 3},
			{Value: "Madrid, Spain", Count: 2},
		}, top)
	})

	t.Run("Unknown dimensions fail", func(t *testing.T) {
		_, err := engine.TopN(ctx, analytics.Dimension("referrer"))
		assert.Error(t, err)
	})

	t.Run("Browser stats include the user agent breakdown", func(t *testing.T) {
		stats, err := engine.BrowserStats(ctx)
		require.NoError(t, err)
		assert.Len(t, stats.BrowserStats, 3)
		assert.Len(t, stats.OSStats, 2)
	})
}

func TestSortTopN(t *testing.T) {
	entries := []analytics.TopNEntry{{Value: "b", Count: 1}, {Value: "a", Count: 1}, {Value: "c", Count: 5}}

	assert.Equal(t, []analytics.TopNEntry{{Value: "c", Count: 5}, {Value: "a", Count: 1}, {Value: "b", Count: 1}},
		analytics.SortTopN(entries, 0))
	assert.Equal(t, "b", entries[0].Value, "input is left untouched")
	assert.Len(t, analytics.SortTopN(entries, 10), 3)
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	engine, _ := seed(t)

	t.Run("Reports the first visitor stored for the project", func(t *testing.T) {
		stats, err := engine.Statistics(ctx, "blog")
		require.NoError(t, err)
		assert.Equal(t, &analytics.Statistics{
			MostUsedBrowser:     "Firefox 121.0 / Linux",
			MostUsedDevice:      "Desktop",
			MostVisitedLocation: "Berlin, Germany",
		}, stats)
	})

	t.Run("Unknown projects are not found", func(t *testing.T) {
		_, err := engine.Statistics(ctx, "missing")
		assert.ErrorIs(t, err, visitors.ErrNotFound)
	})
}

func TestFilterSearch(t *testing.T) {
	ctx := context.Background()
	engine, db := seed(t)
	store := visitors.NewStore(db, testsupport.GetLogger())

	t.Run("Pages concatenate to the full ordered list", func(t *testing.T) {
		all, err := store.List(ctx)
		require.NoError(t, err)

		for _, limit := range []int{1, 4, 6, 10} {
			var collected []visitors.Visitor
			first, err := engine.FilterSearch(ctx, analytics.SearchFilters{}, analytics.Pagination{Page: 1, Limit: limit})
			require.NoError(t, err)
			assert.Equal(t, int64(6), first.TotalCount)
			assert.Equal(t, (6+limit-1)/limit, first.TotalPages)

			for page := 1; page <= first.TotalPages; page++ {
				res, err := engine.FilterSearch(ctx, analytics.SearchFilters{}, analytics.Pagination{Page: page, Limit: limit})
				require.NoError(t, err)
				assert.Equal(t, page, res.CurrentPage)
				collected = append(collected, res.Visitors...)
			}

			require.Len(t, collected, len(all))
			for i := range all {
				assert.Equal(t, all[i].ID, collected[i].ID)
			}
		}
	})

	t.Run("Zero pagination takes the defaults", func(t *testing.T) {
		res, err := engine.FilterSearch(ctx, analytics.SearchFilters{}, analytics.Pagination{})
		require.NoError(t, err)
		assert.Equal(t, analytics.DefaultPage, res.CurrentPage)
		assert.Equal(t, 1, res.TotalPages)
	})

	t.Run("Filters combine and ignore All", func(t *testing.T) {
		res, err := engine.FilterSearch(ctx, analytics.SearchFilters{
			ProjectName: visitors.AllProjects,
			Location:    "Madrid, Spain",
			Device:      "Desktop",
		}, analytics.Pagination{Page: 1, Limit: 10})
		require.NoError(t, err)
		require.Len(t, res.Visitors, 1)
		assert.Equal(t, "2.2.2.2", res.Visitors[0].IPAddress)
	})

	t.Run("Date bounds cover whole days", func(t *testing.T) {
		res, err := engine.FilterSearch(ctx, analytics.SearchFilters{StartDate: "2024-03-14", EndDate: "2024-03-14"},
			analytics.Pagination{Page: 1, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.TotalCount)
	})

	t.Run("Malformed dates are rejected", func(t *testing.T) {
		_, err := engine.FilterSearch(ctx, analytics.SearchFilters{StartDate: "14/03/2024"}, analytics.Pagination{})
		assert.ErrorIs(t, err, analytics.ErrInvalidDateFormat)
	})
}

func TestDateRangeSearch(t *testing.T) {
	ctx := context.Background()
	engine, _ := seed(t)

	t.Run("Returns visitors last seen inside the days", func(t *testing.T) {
		res, err := engine.DateRangeSearch(ctx, "2024-03-14", "2024-03-15")
		require.NoError(t, err)
		assert.Equal(t, 4, res.VisitorCount)
		assert.Equal(t, "2024-03-14", res.StartDate)
		assert.Len(t, res.Visitors, 4)
	})

	t.Run("A malformed month is an invalid date", func(t *testing.T) {
		_, err := engine.DateRangeSearch(ctx, "2024-13-01", "2024-01-05")
		assert.ErrorIs(t, err, analytics.ErrInvalidDateFormat)
	})

	t.Run("Both dates are required", func(t *testing.T) {
		_, err := engine.DateRangeSearch(ctx, "2024-03-14", "")
		assert.ErrorIs(t, err, analytics.ErrInvalidDateFormat)
	})
}

func TestCountBetween(t *testing.T) {
	engine, _ := seed(t)

	n, err := engine.CountBetween(context.Background(), "blog", at(time.March, 14, 0, 0), at(time.March, 14, 18, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestQueryFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("A missing table reports the store as unavailable", func(t *testing.T) {
		engine, db := seed(t)
		require.NoError(t, db.Migrator().DropTable(&visitors.Visitor{}))

		_, err := engine.UniqueCount(ctx, "blog")
		assert.ErrorIs(t, err, visitors.ErrStoreUnavailable)
	})

	t.Run("A broken query is not reported as an unavailable store", func(t *testing.T) {
		engine, db := seed(t)
		require.NoError(t, db.Migrator().DropTable(&visitors.Visitor{}))
		require.NoError(t, db.Exec("CREATE TABLE visitors (id INTEGER PRIMARY KEY, ip_address TEXT, project_name TEXT)").Error)

		_, err := engine.TopN(ctx, analytics.DimensionBrowser)
		require.Error(t, err)
		assert.NotErrorIs(t, err, visitors.ErrStoreUnavailable)
		assert.Contains(t, err.Error(), "no such column")
	})
}
