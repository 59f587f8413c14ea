package visits

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	first := now.Add(-72 * time.Hour)

	tests := []struct {
		name          string
		prior         *Visit
		wantNew       bool
		wantReturning bool
		wantFirst     time.Time
	}{
		{
			name:      "no prior record",
			prior:     nil,
			wantNew:   true,
			wantFirst: now,
		},
		{
			name:      "continuing within window",
			prior:     &Visit{FirstVisit: first, LastVisit: now.Add(-2 * time.Hour)},
			wantFirst: first,
		},
		{
			name:      "gap of exactly the window is continuing",
			prior:     &Visit{FirstVisit: first, LastVisit: now.Add(-24 * time.Hour)},
			wantFirst: first,
		},
		{
			name:          "gap beyond window is returning",
			prior:         &Visit{FirstVisit: first, LastVisit: now.Add(-25 * time.Hour)},
			wantReturning: true,
			wantFirst:     first,
		},
		{
			name:      "missing first visit falls back to visit date",
			prior:     &Visit{VisitDate: first, LastVisit: now.Add(-time.Hour)},
			wantFirst: first,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.prior, now, DefaultReturningWindow)
			assert.Equal(t, tt.wantNew, c.IsNew)
			assert.Equal(t, tt.wantReturning, c.IsReturning)
			assert.Equal(t, tt.wantFirst, c.FirstVisit)
			assert.False(t, c.IsNew && c.IsReturning)

			var v Visit
			c.Apply(&v)
			assert.Equal(t, c.IsNew, v.IsNewVisitor)
			assert.Equal(t, c.IsReturning, v.IsReturningVisitor)
			assert.Equal(t, c.FirstVisit, v.FirstVisit)
		})
	}
}

func TestGroupQueryValidate(t *testing.T) {
	assert.NoError(t, GroupQuery{By: []Dimension{DimCountry, DimRegion}}.Validate())
	assert.Error(t, GroupQuery{By: []Dimension{"password"}}.Validate())
	assert.Error(t, GroupQuery{Require: []Dimension{"nope"}}.Validate())
	assert.Error(t, GroupQuery{By: []Dimension{DimDevice, DimBrowser, DimOS, DimPage}}.Validate())
}

func TestVisitorFilterPageLimit(t *testing.T) {
	assert.Equal(t, MaxVisitorsPage, VisitorFilter{}.PageLimit())
	assert.Equal(t, MaxVisitorsPage, VisitorFilter{Limit: 500}.PageLimit())
	assert.Equal(t, 10, VisitorFilter{Limit: 10}.PageLimit())
}
