package flow

import (
	"fmt"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/models"
)

// Option sources usable from the question file.
const (
	SourceDates = "dates"
	SourceHours = "hours"
)

// Layouts used for option values and timestamp construction.
const (
	DateLayout      = "2006-01-02"
	HourLayout      = "15:04"
	timestampLayout = DateLayout + " " + HourLayout
	dateLabelLayout = "January 2, 2006"
	// MaxDateCandidates caps the dates generator.
	MaxDateCandidates = models.MaxSelectOptions
)

// OptionGenerator computes the choices of a dynamic question from the current answers.
type OptionGenerator func(now time.Time, loc *time.Location, q models.QuestionSpec, answers map[string]string) []models.Option

var generators = map[string]OptionGenerator{
	SourceDates: dateOptions,
	SourceHours: hourOptions,
}

// OptionsFor returns the options a question presents given the session answers.
func OptionsFor(q models.QuestionSpec, now time.Time, loc *time.Location, answers map[string]string) []models.Option {
	if q.Source == "" {
		return q.Options
	}
	gen, ok := generators[q.Source]
	if !ok {
		return nil
	}
	return gen(now, loc, q, answers)
}

func dateOptions(now time.Time, loc *time.Location, q models.QuestionSpec, answers map[string]string) []models.Option {
	var lower *time.Time
	if q.MinDateFrom != "" {
		if raw, ok := answers[q.MinDateFrom]; ok {
			if d, err := time.ParseInLocation(DateLayout, raw, loc); err == nil {
				lower = &d
			}
		}
	}
	return DateCandidates(now, loc, lower, MaxDateCandidates)
}

// DateCandidates lists up to limit consecutive calendar days starting today in loc,
// or at lower when lower is a later day. The first entries are labelled relative to today.
func DateCandidates(now time.Time, loc *time.Location, lower *time.Time, limit int) []models.Option {
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	start := today
	if lower != nil {
		b := lower.In(loc)
		bound := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, loc)
		if bound.After(start) {
			start = bound
		}
	}

	opts := make([]models.Option, 0, limit)
	for i := 0; i < limit; i++ {
		// AddDate keeps calendar days stable across DST changes.
		day := start.AddDate(0, 0, i)
		opts = append(opts, models.Option{
			Label: dateLabel(today, day),
			Value: day.Format(DateLayout),
		})
	}
	return opts
}

func dateLabel(today, day time.Time) string {
	switch {
	case sameDay(day, today):
		return "Today"
	case sameDay(day, today.AddDate(0, 0, 1)):
		return "Tomorrow"
	default:
		return day.Format(dateLabelLayout)
	}
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func hourOptions(now time.Time, loc *time.Location, _ models.QuestionSpec, _ map[string]string) []models.Option {
	return HourCandidates(now, loc)
}

// HourCandidates lists the 24 whole hours of a day, labelled with the zone abbreviation
// in effect at now (e.g. "6:00 PM EST").
func HourCandidates(now time.Time, loc *time.Location) []models.Option {
	zone, _ := now.In(loc).Zone()
	opts := make([]models.Option, 0, 24)
	for h := 0; h < 24; h++ {
		t := time.Date(2000, time.January, 1, h, 0, 0, 0, time.UTC)
		opts = append(opts, models.Option{
			Label: fmt.Sprintf("%s %s", t.Format("3:04 PM"), zone),
			Value: t.Format(HourLayout),
		})
	}
	return opts
}

// Timestamp builds an instant from a date answer, an hour answer and a location.
func Timestamp(date, hour string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(timestampLayout, date+" "+hour, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date/time %q %q: %w", date, hour, err)
	}
	return t, nil
}
