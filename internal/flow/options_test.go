package flow

import (
	"testing"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDateCandidatesLabels(t *testing.T) {
	opts := DateCandidates(testNow, testLoc, nil, MaxDateCandidates)
	require.Len(t, opts, MaxDateCandidates)
	assert.Equal(t, models.Option{Label: "Today", Value: "2026-03-02"}, opts[0])
	assert.Equal(t, models.Option{Label: "Tomorrow", Value: "2026-03-03"}, opts[1])
	assert.Equal(t, models.Option{Label: "March 4, 2026", Value: "2026-03-04"}, opts[2])
	assert.Equal(t, "2026-03-26", opts[24].Value)
}

func TestDateCandidatesUseLocation(t *testing.T) {
	// 02:00 UTC on March 3 is still March 2 in New York time.
	now := time.Date(2026, time.March, 3, 2, 0, 0, 0, time.UTC)
	opts := DateCandidates(now, testLoc, nil, 3)
	assert.Equal(t, "2026-03-02", opts[0].Value)
}

func TestDateCandidatesLowerBound(t *testing.T) {
	bound := time.Date(2026, time.April, 1, 0, 0, 0, 0, testLoc)
	opts := DateCandidates(testNow, testLoc, &bound, MaxDateCandidates)
	assert.Equal(t, models.Option{Label: "April 1, 2026", Value: "2026-04-01"}, opts[0])

	past := time.Date(2026, time.February, 1, 0, 0, 0, 0, testLoc)
	opts = DateCandidates(testNow, testLoc, &past, MaxDateCandidates)
	assert.Equal(t, "Today", opts[0].Label, "a bound in the past does not move the window back")
}

func TestDateCandidatesAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	now := time.Date(2026, time.March, 7, 12, 0, 0, 0, ny)
	opts := DateCandidates(now, ny, nil, 4)
	var values []string
	for _, o := range opts {
		values = append(values, o.Value)
	}
	assert.Equal(t, []string{"2026-03-07", "2026-03-08", "2026-03-09", "2026-03-10"}, values)
}

func TestDateBoundProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		nowOffset := rapid.IntRange(0, 3650).Draw(rt, "nowDays")
		boundOffset := rapid.IntRange(-400, 400).Draw(rt, "boundDays")
		limit := rapid.IntRange(0, 40).Draw(rt, "limit")

		now := time.Date(2024, time.January, 1, 15, 30, 0, 0, testLoc).AddDate(0, 0, nowOffset)
		bound := now.AddDate(0, 0, boundOffset)
		capped := limit
		if capped > MaxDateCandidates {
			capped = MaxDateCandidates
		}

		opts := DateCandidates(now, testLoc, &bound, capped)
		if len(opts) > MaxDateCandidates {
			rt.Fatalf("emitted %d candidates", len(opts))
		}
		boundDay := bound.Format(DateLayout)
		today := now.Format(DateLayout)
		for _, o := range opts {
			if o.Value < boundDay {
				rt.Fatalf("candidate %s earlier than bound %s", o.Value, boundDay)
			}
			if o.Value < today {
				rt.Fatalf("candidate %s earlier than today %s", o.Value, today)
			}
		}
	})
}

func TestHourCandidates(t *testing.T) {
	opts := HourCandidates(testNow, testLoc)
	require.Len(t, opts, 24)
	assert.Equal(t, models.Option{Label: "12:00 AM EST", Value: "00:00"}, opts[0])
	assert.Equal(t, models.Option{Label: "6:00 PM EST", Value: "18:00"}, opts[18])
	assert.Equal(t, "23:00", opts[23].Value)
}

func TestOptionsForUsesAnswersForBound(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)
	q, _ := reg.Lookup(KeyEndDate)

	opts := OptionsFor(q, testNow, testLoc, map[string]string{KeyStartDate: "2026-03-05"})
	assert.Equal(t, "2026-03-05", opts[0].Value)

	opts = OptionsFor(q, testNow, testLoc, map[string]string{KeyStartDate: "garbage"})
	assert.Equal(t, "2026-03-02", opts[0].Value, "unparseable bound falls back to today")

	static, _ := reg.Lookup(KeyGameMode)
	assert.Equal(t, static.Options, OptionsFor(static, testNow, testLoc, nil))
}

func TestTimestamp(t *testing.T) {
	ts, err := Timestamp("2026-03-03", "18:00", testLoc)
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2026, time.March, 3, 23, 0, 0, 0, time.UTC)))

	_, err = Timestamp("2026-03-03", "6:00 PM EST", testLoc)
	assert.Error(t, err)
	_, err = Timestamp("", "", testLoc)
	assert.Error(t, err)
}
