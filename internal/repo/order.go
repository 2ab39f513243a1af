package repo

import (
	"sort"

	"github.com/pkordes/triplog/internal/domain"
)

// sortByStartDesc orders trips most recent first, the order ListTrips uses.
func sortByStartDesc(trips []domain.Trip) {
	sort.SliceStable(trips, func(i, j int) bool {
		return trips[i].StartTime.After(trips[j].StartTime)
	})
}
