package attendance

import (
	"sort"

	"github.com/trezcool/classledger/core"
	"github.com/trezcool/classledger/core/schedule"
)

// mergeSessions overlays the recorded sessions on the expected schedule slots.
// Recorded sessions whose date left the schedule are kept and flagged off schedule.
// The output is sorted by date and is the same for the same inputs.
func mergeSessions(slots []schedule.Slot, recorded []Session) []SessionView {
	byDate := make(map[string]Session, len(recorded))
	for _, sess := range recorded {
		byDate[core.FormatDate(sess.Date)] = sess
	}

	views := make([]SessionView, 0, len(slots)+len(recorded))
	for _, slot := range slots {
		date := core.FormatDate(slot.Date)
		if sess, ok := byDate[date]; ok {
			v := sess.View(false)
			v.ScheduledHours = slot.ScheduledHours
			views = append(views, v)
			delete(byDate, date)
			continue
		}
		views = append(views, SessionView{
			Date:           date,
			ScheduledHours: slot.ScheduledHours,
			Status:         StateExpected,
		})
	}
	for _, sess := range byDate {
		views = append(views, sess.View(true))
	}

	// YYYY-MM-DD sorts chronologically
	sort.SliceStable(views, func(i, j int) bool { return views[i].Date < views[j].Date })
	return views
}
