package fleet

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// MissingValue ranks devices without a numeric reading below any real reading.
const MissingValue = -1e9

type SortKey string

const (
	SortByDeviceId    SortKey = "device_id"
	SortByStatus      SortKey = "status"
	SortByUptime      SortKey = "uptime"
	SortByFirmware    SortKey = "firmware_version"
	SortByTemperature SortKey = "cpu_temperature"
	SortByRssi        SortKey = "wifi_rssi"
	SortByLastUpdated SortKey = "last_updated"
)

var SortKeys = []SortKey{
	SortByStatus,
	SortByDeviceId,
	SortByUptime,
	SortByLastUpdated,
	SortByFirmware,
	SortByTemperature,
	SortByRssi,
}

func ParseSortKey(s string) (SortKey, error) {
	k := SortKey(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(SortKeys, k) {
		return k, nil
	}
	return "", fmt.Errorf("unknown sort key %q", s)
}

type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	}
	return "", fmt.Errorf("unknown sort direction %q", s)
}

// Query selects and orders the rows of a snapshot.
type Query struct {
	Key         SortKey
	Direction   Direction
	Filter      string
	OnlineFirst bool
}

func DefaultQuery() Query {
	return Query{
		Key:         SortByStatus,
		Direction:   Ascending,
		OnlineFirst: true,
	}
}

// Filter keeps the rows whose decimal device id contains text, ignoring case.
func Filter(rows []Row, text string) []Row {
	text = strings.ToLower(strings.TrimSpace(text))
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if text == "" || strings.Contains(strings.ToLower(strconv.Itoa(r.DeviceId)), text) {
			out = append(out, r)
		}
	}
	return out
}

// Order filters then stably sorts a copy of rows. Descending negates the key comparator;
// OnlineFirst partitions online rows ahead of offline ones regardless of direction.
func Order(rows []Row, q Query) []Row {
	out := Filter(rows, q.Filter)

	compare := comparator(q.Key)
	if q.Direction == Descending {
		ascending := compare
		compare = func(a, b Row) int { return -ascending(a, b) }
	}
	if q.OnlineFirst {
		byKey := compare
		compare = func(a, b Row) int {
			if c := cmp.Compare(onlineRank(a), onlineRank(b)); c != 0 {
				return c
			}
			return byKey(a, b)
		}
	}

	slices.SortStableFunc(out, compare)
	return out
}

func comparator(key SortKey) func(a, b Row) int {
	switch key {
	case SortByDeviceId:
		return func(a, b Row) int { return cmp.Compare(a.DeviceId, b.DeviceId) }
	case SortByUptime:
		return compareUptime
	case SortByFirmware:
		// a Collator keeps scratch buffers: one per ordering
		c := collate.New(language.Und, collate.Numeric)
		return func(a, b Row) int { return c.CompareString(a.FirmwareVersion, b.FirmwareVersion) }
	case SortByTemperature:
		return func(a, b Row) int { return cmp.Compare(reading(a.CpuTemperature), reading(b.CpuTemperature)) }
	case SortByRssi:
		return func(a, b Row) int { return cmp.Compare(reading(a.WifiRssi), reading(b.WifiRssi)) }
	case SortByLastUpdated:
		return func(a, b Row) int { return compareTimestamps(a.LastUpdated, b.LastUpdated) }
	default:
		return compareStatus
	}
}

func onlineRank(r Row) int {
	if r.Status.Online() {
		return 0
	}
	return 1
}

func compareStatus(a, b Row) int {
	if c := cmp.Compare(a.Status.rank(), b.Status.rank()); c != 0 {
		return c
	}
	return compareTimestamps(a.LastUpdated, b.LastUpdated)
}

// compareUptime puts online rows first, longest uptime first, then offline rows, longest
// downtime first. Offline rows that never reported come last.
func compareUptime(a, b Row) int {
	if c := cmp.Compare(onlineRank(a), onlineRank(b)); c != 0 {
		return c
	}
	if a.Status.Online() {
		return cmp.Compare(b.Uptime, a.Uptime)
	}
	switch {
	case a.hasDowntime && b.hasDowntime:
		return cmp.Compare(b.Downtime, a.Downtime)
	case a.hasDowntime:
		return -1
	case b.hasDowntime:
		return 1
	}
	return 0
}

// compareTimestamps orders absent values first.
func compareTimestamps(a, b Timestamp) int {
	ta, oka := a.Time()
	tb, okb := b.Time()
	switch {
	case !oka && !okb:
		return 0
	case !oka:
		return -1
	case !okb:
		return 1
	}
	return ta.Compare(tb)
}

func reading(v *float64) float64 {
	if v == nil {
		return MissingValue
	}
	return *v
}
