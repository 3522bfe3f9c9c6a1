// Package quarter maps timestamps to fiscal quarter labels of the form Q<1-4>-<year>.
package quarter

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ErrInvalidLabel is returned for malformed labels and for a year that
// disagrees with the label.
var ErrInvalidLabel = errors.New("invalid quarter label")

var labelPattern = regexp.MustCompile(`^Q([1-4])-(\d{4})$`)

type Quarter struct {
	Number int `json:"quarter"`
	Year   int `json:"year"`
}

// Current returns the quarter containing now, in now's location.
func Current(now time.Time) Quarter {
	month := int(now.Month()) - 1
	return Quarter{Number: month/3 + 1, Year: now.Year()}
}

func Parse(label string) (Quarter, error) {
	m := labelPattern.FindStringSubmatch(label)
	if m == nil {
		return Quarter{}, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	n, _ := strconv.Atoi(m[1])
	y, _ := strconv.Atoi(m[2])
	return Quarter{Number: n, Year: y}, nil
}

// Resolve parses label and checks it against year.
func Resolve(label string, year int) (Quarter, error) {
	q, err := Parse(label)
	if err != nil {
		return Quarter{}, err
	}
	if q.Year != year {
		return Quarter{}, fmt.Errorf("%w: %q does not belong to year %d", ErrInvalidLabel, label, year)
	}
	return q, nil
}

// Previous returns the quarter before label. Q1 wraps to Q4 of the prior year.
func Previous(label string, year int) (Quarter, error) {
	q, err := Resolve(label, year)
	if err != nil {
		return Quarter{}, err
	}
	return q.Prev(), nil
}

// Next returns the quarter after label. Q4 wraps to Q1 of the next year.
func Next(label string, year int) (Quarter, error) {
	q, err := Resolve(label, year)
	if err != nil {
		return Quarter{}, err
	}
	return q.Next(), nil
}

func (q Quarter) Prev() Quarter {
	if q.Number == 1 {
		return Quarter{Number: 4, Year: q.Year - 1}
	}
	return Quarter{Number: q.Number - 1, Year: q.Year}
}

func (q Quarter) Next() Quarter {
	if q.Number == 4 {
		return Quarter{Number: 1, Year: q.Year + 1}
	}
	return Quarter{Number: q.Number + 1, Year: q.Year}
}

func (q Quarter) Label() string {
	return fmt.Sprintf("Q%d-%d", q.Number, q.Year)
}

func (q Quarter) String() string {
	return q.Label()
}

// Start is midnight UTC on the first day of the quarter.
func (q Quarter) Start() time.Time {
	return time.Date(q.Year, time.Month((q.Number-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
}

// End is the exclusive upper bound, i.e. the start of the next quarter.
func (q Quarter) End() time.Time {
	return q.Next().Start()
}

func (q Quarter) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(q.Start()) && t.Before(q.End())
}
