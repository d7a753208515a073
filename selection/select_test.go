package selection

import (
	"reflect"
	"strings"
	"testing"

	"github.com/wepogo/hilbot"
	"github.com/wepogo/hilbot/instancedb"
)

const sampleTable = `
1: description=Doxygen
2: description=AStyle
3: description=PyLint
4: description="static size"
5: description="header check"
6: description="malloc check"
10: platform=esp32 mcu=esp32 toolchain=esp-idf apis=mqtt_client,sockets
10.1: platform=esp32 mcu=esp32 toolchain=arduino apis=mqtt_client
11: platform=nrf5sdk mcu=nrf52 toolchain=gcc apis=sockets
12: platform=zephyr mcu=nrf53 toolchain=west apis=gnss
`

func testDB(t *testing.T) *instancedb.DB {
	t.Helper()
	db, err := instancedb.Parse(strings.NewReader(sampleTable))
	if err != nil {
		t.Fatal(err)
	}
	return db
}

var checkers = []hilbot.Instance{{1}, {2}, {3}, {4}, {5}, {6}}

func withCheckers(in ...hilbot.Instance) []hilbot.Instance {
	out := append([]hilbot.Instance{}, checkers...)
	out = append(out, in...)
	hilbot.SortInstances(out)
	return out
}

func TestSelectEmpty(t *testing.T) {
	db := testDB(t)
	insts, filter := Select(db, nil)
	if !reflect.DeepEqual(insts, checkers) {
		t.Errorf("Select(nil) = %v, want %v", insts, checkers)
	}
	if filter != "" {
		t.Errorf("filter = %q, want empty", filter)
	}
}

func TestSelectDeterministic(t *testing.T) {
	db := testDB(t)
	paths := []string{"common/sockets/src/u_sock.c", "port/platform/esp32/app.c"}
	a1, f1 := Select(db, paths)
	a2, f2 := Select(db, paths)
	if !reflect.DeepEqual(a1, a2) || f1 != f2 {
		t.Errorf("Select not deterministic: %v/%q vs %v/%q", a1, f1, a2, f2)
	}
	for i := 1; i < len(a1); i++ {
		if !a1[i-1].Less(a1[i]) {
			t.Errorf("result not sorted or contains duplicates: %v", a1)
		}
	}
}

func TestSelectDiscard(t *testing.T) {
	db := testDB(t)
	insts, _ := Select(db, []string{"README.md", "doc/pic.png", "notes.txt"})
	if !reflect.DeepEqual(insts, checkers) {
		t.Errorf("throwaway files selected %v", insts)
	}

	// allowlisted names survive the extension discard; an
	// unattributable CMakeLists.txt is conservative: everything
	insts, _ = Select(db, []string{"port/platform/esp32/mcu/esp32/CMakeLists.txt"})
	want := withCheckers(hilbot.Instance{10}, hilbot.Instance{10, 1})
	if !reflect.DeepEqual(insts, want) {
		t.Errorf("CMakeLists under esp32 mcu = %v, want %v", insts, want)
	}
}

func TestSelectPlatformCommon(t *testing.T) {
	db := testDB(t)
	insts, _ := Select(db, []string{"port/platform/common/mutex_debug.c"})
	want := withCheckers(db.All()...)
	hilbot.SortInstances(want)
	want = hilbot.DedupeInstances(want)
	if !reflect.DeepEqual(insts, want) {
		t.Errorf("platform/common = %v, want %v", insts, want)
	}
}

func TestSelectPlatformUnknown(t *testing.T) {
	db := testDB(t)
	// .c file directly under platform/ with no recognized
	// platform segment: conservative fallback to everything
	insts, _ := Select(db, []string{"port/platform/startup.c"})
	want := withCheckers(db.All()...)
	hilbot.SortInstances(want)
	want = hilbot.DedupeInstances(want)
	if !reflect.DeepEqual(insts, want) {
		t.Errorf("unknown platform = %v, want %v", insts, want)
	}
}

func TestSelectPlatformMCU(t *testing.T) {
	db := testDB(t)

	insts, _ := Select(db, []string{"port/platform/nrf5sdk/mcu/nrf52/uart.c"})
	want := withCheckers(hilbot.Instance{11})
	if !reflect.DeepEqual(insts, want) {
		t.Errorf("nrf5sdk/mcu/nrf52 = %v, want %v", insts, want)
	}

	// toolchain sub-segment narrows further
	insts, _ = Select(db, []string{"port/platform/esp32/mcu/esp32/arduino/app.c"})
	want = withCheckers(hilbot.Instance{10, 1})
	if !reflect.DeepEqual(insts, want) {
		t.Errorf("esp32/mcu/esp32/arduino = %v, want %v", insts, want)
	}

	// unknown MCU falls back to platform-wide
	insts, _ = Select(db, []string{"port/platform/esp32/mcu/esp99/boot.c"})
	want = withCheckers(hilbot.Instance{10}, hilbot.Instance{10, 1})
	if !reflect.DeepEqual(insts, want) {
		t.Errorf("esp32/mcu/esp99 = %v, want %v", insts, want)
	}

	// non-mcu subdirectory is a platform-wide change
	insts, _ = Select(db, []string{"port/platform/esp32/scripts/helper.c"})
	if !reflect.DeepEqual(insts, want) {
		t.Errorf("esp32/scripts = %v, want %v", insts, want)
	}
}

func TestSelectAPIFilter(t *testing.T) {
	db := testDB(t)

	insts, filter := Select(db, []string{"common/mqtt_client/src/u_mqtt_client.c"})
	want := withCheckers(hilbot.Instance{10}, hilbot.Instance{10, 1})
	if !reflect.DeepEqual(insts, want) {
		t.Errorf("mqtt_client = %v, want %v", insts, want)
	}
	if filter != "mqttClient" {
		t.Errorf("filter = %q, want mqttClient", filter)
	}
}

func TestSelectFilterCollapse(t *testing.T) {
	db := testDB(t)

	// two different APIs cannot be expressed as one filter
	insts, filter := Select(db, []string{
		"common/mqtt_client/src/u_mqtt_client.c",
		"common/gnss/api/u_gnss.h",
	})
	if filter != "" {
		t.Errorf("filter = %q, want empty", filter)
	}
	want := withCheckers(db.All()...)
	hilbot.SortInstances(want)
	want = hilbot.DedupeInstances(want)
	if !reflect.DeepEqual(insts, want) {
		t.Errorf("cross-API change = %v, want %v", insts, want)
	}
}

func TestSelectUnknownAPI(t *testing.T) {
	db := testDB(t)
	// code file not under api/src/test at all: everything
	insts, filter := Select(db, []string{"common/helpers.c"})
	if filter != "" {
		t.Errorf("filter = %q, want empty", filter)
	}
	want := withCheckers(db.All()...)
	hilbot.SortInstances(want)
	want = hilbot.DedupeInstances(want)
	if !reflect.DeepEqual(insts, want) {
		t.Errorf("unattributable code file = %v, want %v", insts, want)
	}
}

func TestSelectPython(t *testing.T) {
	db := testDB(t)
	insts, _ := Select(db, []string{"automation/run.py"})
	if !reflect.DeepEqual(insts, checkers) {
		// PyLint instance 3 is already in the always-run set
		t.Errorf("py change = %v, want %v", insts, checkers)
	}
}

func TestSnakeToCamel(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"mqtt", "mqtt"},
		{"mqtt_client", "mqttClient"},
		{"a_b_c", "aBC"},
	}
	for _, test := range cases {
		if got := snakeToCamel(test.in); got != test.want {
			t.Errorf("snakeToCamel(%q) = %q, want %q", test.in, got, test.want)
		}
	}
}
