package fleet

import (
	"slices"
	"testing"
	"time"
)

func ids(rows []Row) []int {
	out := make([]int, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.DeviceId)
	}
	return out
}

func sampleFleet() []Row {
	online := seenAgo(1315, 5*time.Minute)
	online.Booted = NewTimestamp(now.Add(-10 * time.Hour))
	online.FirmwareVersion = "v1.10.0"
	online.CpuTemperature = ptr(48.5)
	online.WifiRssi = ptr(-61.0)

	idle := seenAgo(2408, 20*time.Minute)
	idle.Broadcasting = ptr(false)
	idle.Booted = NewTimestamp(now.Add(-2 * time.Hour))
	idle.FirmwareVersion = "v1.9.2"
	idle.WifiRssi = ptr(-75.0)

	offline := seenAgo(3227, 98*time.Minute)
	offline.FirmwareVersion = "v1.2.0"
	offline.CpuTemperature = ptr(39.0)

	stale := seenAgo(42, 6*time.Hour)
	stale.FirmwareVersion = "v1.10.0"

	never := Device{DeviceId: 7, FirmwareVersion: "v0.9"}

	return Annotate([]Device{offline, never, online, stale, idle}, now)
}

func TestOrderDeviceIdReversed(t *testing.T) {
	rows := sampleFleet()
	asc := Order(rows, Query{Key: SortByDeviceId, Direction: Ascending})
	desc := Order(rows, Query{Key: SortByDeviceId, Direction: Descending})

	if want := []int{7, 42, 1315, 2408, 3227}; !slices.Equal(ids(asc), want) {
		t.Fatalf("ascending: got %v, want %v", ids(asc), want)
	}
	reversed := slices.Clone(ids(desc))
	slices.Reverse(reversed)
	if !slices.Equal(ids(asc), reversed) {
		t.Errorf("descending %v is not the reverse of ascending %v", ids(desc), ids(asc))
	}
}

func TestOrderFilter(t *testing.T) {
	rows := sampleFleet()

	if got := Order(rows, Query{Key: SortByDeviceId, Filter: "999"}); len(got) != 0 {
		t.Errorf("filter matching nothing: got %v", ids(got))
	}
	if got := ids(Order(rows, Query{Key: SortByDeviceId, Filter: " 31 "})); !slices.Equal(got, []int{1315}) {
		t.Errorf("filter 31: got %v", got)
	}
	if got := Order(rows, Query{Key: SortByDeviceId}); len(got) != len(rows) {
		t.Errorf("empty filter dropped rows: %v", ids(got))
	}
}

func TestOrderDoesNotMutateInput(t *testing.T) {
	rows := sampleFleet()
	before := ids(rows)
	_ = Order(rows, Query{Key: SortByDeviceId, Direction: Descending})
	if !slices.Equal(ids(rows), before) {
		t.Errorf("input reordered: %v, was %v", ids(rows), before)
	}
}

func TestOrderStatus(t *testing.T) {
	got := ids(Order(sampleFleet(), Query{Key: SortByStatus, Direction: Ascending}))
	// online before offline; offline ties by last_updated ascending, never seen first
	want := []int{1315, 2408, 7, 42, 3227}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestOrderUptime(t *testing.T) {
	rows := sampleFleet()

	got := ids(Order(rows, Query{Key: SortByUptime, Direction: Ascending}))
	// longest uptime first, then longest downtime, never seen last
	want := []int{1315, 2408, 42, 3227, 7}
	if !slices.Equal(got, want) {
		t.Errorf("ascending: got %v, want %v", got, want)
	}

	got = ids(Order(rows, Query{Key: SortByUptime, Direction: Descending}))
	want = []int{7, 3227, 42, 2408, 1315}
	if !slices.Equal(got, want) {
		t.Errorf("descending: got %v, want %v", got, want)
	}

	got = ids(Order(rows, Query{Key: SortByUptime, Direction: Descending, OnlineFirst: true}))
	want = []int{2408, 1315, 7, 3227, 42}
	if !slices.Equal(got, want) {
		t.Errorf("descending online first: got %v, want %v", got, want)
	}
}

func TestOrderOnlineFirstIgnoresDirection(t *testing.T) {
	got := ids(Order(sampleFleet(), Query{Key: SortByDeviceId, Direction: Descending, OnlineFirst: true}))
	want := []int{2408, 1315, 3227, 42, 7}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestOrderFirmwareNumeric(t *testing.T) {
	got := ids(Order(sampleFleet(), Query{Key: SortByFirmware, Direction: Ascending}))
	// v0.9 < v1.2.0 < v1.9.2 < v1.10.0 (x2, input order kept)
	want := []int{7, 3227, 2408, 1315, 42}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestOrderStableForEqualKeys(t *testing.T) {
	devices := make([]Device, 0, 6)
	for _, id := range []int{5, 3, 9, 1, 8, 2} {
		d := seenAgo(id, time.Minute)
		d.FirmwareVersion = "v2.0.0"
		devices = append(devices, d)
	}
	rows := Annotate(devices, now)
	for _, dir := range []Direction{Ascending, Descending} {
		got := ids(Order(rows, Query{Key: SortByFirmware, Direction: dir}))
		if want := []int{5, 3, 9, 1, 8, 2}; !slices.Equal(got, want) {
			t.Errorf("%s: got %v, want insertion order %v", dir, got, want)
		}
	}
}

func TestOrderMissingReadingsLast(t *testing.T) {
	rows := sampleFleet()

	got := ids(Order(rows, Query{Key: SortByTemperature, Direction: Descending}))
	want := []int{1315, 3227, 7, 42, 2408}
	if !slices.Equal(got, want) {
		t.Errorf("temperature descending: got %v, want %v", got, want)
	}

	got = ids(Order(rows, Query{Key: SortByRssi, Direction: Descending}))
	want = []int{1315, 2408, 3227, 7, 42}
	if !slices.Equal(got, want) {
		t.Errorf("rssi descending: got %v, want %v", got, want)
	}
}

func TestParseQueryParts(t *testing.T) {
	if k, err := ParseSortKey(" Uptime "); err != nil || k != SortByUptime {
		t.Errorf("ParseSortKey: %v %v", k, err)
	}
	if _, err := ParseSortKey("mac"); err == nil {
		t.Error("ParseSortKey accepted an unknown key")
	}
	if d, err := ParseDirection("DESCENDING"); err != nil || d != Descending {
		t.Errorf("ParseDirection: %v %v", d, err)
	}
	if _, err := ParseDirection("up"); err == nil {
		t.Error("ParseDirection accepted an unknown direction")
	}
}
