package instancedb

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/wepogo/hilbot"
)

const sampleTable = `
# static checks
1: description="Doxygen check" duration=5
2: description=AStyle duration=5

# hardware instances
6.1: platform=esp32 mcu=esp32 board=esp32-devkitc toolchain=esp-idf duration=25 modules=cell,wifi apis=mqtt,sockets defines=U_CFG_APP=1
13: platform=nrf5sdk mcu=nrf52 board=nrf52840dk toolchain=gcc duration=40 apis=sockets defines=U_CFG_BAUD=115200,U_CFG_RTS
`

func mustParse(t *testing.T) *DB {
	t.Helper()
	db, err := Parse(strings.NewReader(sampleTable))
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func TestParse(t *testing.T) {
	db := mustParse(t)

	all := db.All()
	want := []hilbot.Instance{{1}, {2}, {6, 1}, {13}}
	if !reflect.DeepEqual(all, want) {
		t.Fatalf("All() = %v, want %v", all, want)
	}

	row, ok := db.Lookup(hilbot.Instance{6, 1})
	if !ok {
		t.Fatal("Lookup(6.1) not found")
	}
	if row.Platform != "esp32" || row.MCU != "esp32" || row.Toolchain != "esp-idf" {
		t.Errorf("row 6.1 = %+v", row)
	}
	if row.Duration != 25*time.Minute {
		t.Errorf("duration = %v, want 25m", row.Duration)
	}
	if !reflect.DeepEqual(row.APIs, []string{"mqtt", "sockets"}) {
		t.Errorf("apis = %v", row.APIs)
	}

	if r, _ := db.Lookup(hilbot.Instance{1}); r.Description != "Doxygen check" {
		t.Errorf("description = %q, want %q", r.Description, "Doxygen check")
	}
}

func TestLookups(t *testing.T) {
	db := mustParse(t)

	if got := db.ForAPI("sockets"); !reflect.DeepEqual(got, []hilbot.Instance{{6, 1}, {13}}) {
		t.Errorf("ForAPI(sockets) = %v", got)
	}
	if got := db.ForPlatform("esp32"); !reflect.DeepEqual(got, []hilbot.Instance{{6, 1}}) {
		t.Errorf("ForPlatform(esp32) = %v", got)
	}
	if got := db.ForPlatformMCU("nrf5sdk", "nrf52"); !reflect.DeepEqual(got, []hilbot.Instance{{13}}) {
		t.Errorf("ForPlatformMCU = %v", got)
	}
	if got := db.ForPlatformMCUToolchain("nrf5sdk", "nrf52", "gcc"); len(got) != 1 {
		t.Errorf("ForPlatformMCUToolchain = %v", got)
	}
	if db.HasAPI("gpio") {
		t.Error("HasAPI(gpio) = true")
	}
	if !db.HasPlatform("nrf5sdk") {
		t.Error("HasPlatform(nrf5sdk) = false")
	}
	if got := db.DefinesFor(hilbot.Instance{13}); !reflect.DeepEqual(got, []string{"U_CFG_BAUD=115200", "U_CFG_RTS"}) {
		t.Errorf("DefinesFor(13) = %v", got)
	}
	if got := db.DurationFor(hilbot.Instance{99}); got != defaultDuration {
		t.Errorf("DurationFor(unknown) = %v", got)
	}
	if got := db.PlatformFor(hilbot.Instance{6, 1}); got != "esp32" {
		t.Errorf("PlatformFor(6.1) = %q", got)
	}
}

func TestParseBad(t *testing.T) {
	cases := []string{
		"no separator",
		"x.1: platform=esp32",
		"1: platform",
		"1: bogus=field",
		"1: duration=soon",
		"1: description=\"unterminated",
		"1: platform=a\n1: platform=b", // duplicate
	}

	for _, test := range cases {
		if _, err := Parse(strings.NewReader(test)); err == nil {
			t.Errorf("Parse(%q) err = nil, want error", test)
		}
	}
}
