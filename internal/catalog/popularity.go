package catalog

import "math"

// ApplyPopularity sets each record's weights from stats, normalized per
// window as round(value / max * 100). Records without a matching package
// keep their previous weights. It returns the number of records updated.
func ApplyPopularity(records []GameRecord, stats []PopularityStat) int {
	if len(stats) == 0 {
		return 0
	}

	var maxDay, maxWeek, maxMonth float64
	byPackage := make(map[string]PopularityStat, len(stats))
	for _, s := range stats {
		byPackage[s.PackageName] = s
		maxDay = math.Max(maxDay, s.Day)
		maxWeek = math.Max(maxWeek, s.Week)
		maxMonth = math.Max(maxMonth, s.Month)
	}

	updated := 0
	for i := range records {
		s, ok := byPackage[records[i].PackageName]
		if !ok {
			continue
		}
		p := &records[i].Popularity
		p.Day = weight(s.Day, maxDay, p.Day)
		p.Week = weight(s.Week, maxWeek, p.Week)
		p.Month = weight(s.Month, maxMonth, p.Month)
		updated++
	}
	return updated
}

func weight(v, maxV float64, prev int) int {
	if maxV <= 0 {
		return prev
	}
	return int(math.Round(v / maxV * 100))
}
