// Package instancedb reads the checked-in table describing every test
// instance: which platform, MCU, board and toolchain it uses, which
// modules and APIs it covers, the #defines its build needs and how
// long it usually takes. The table is a read-only data source; rows
// never change after parsing.
package instancedb

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wepogo/hilbot"
)

// A Row describes one instance.
type Row struct {
	Instance    hilbot.Instance
	Description string
	Duration    time.Duration
	Platform    string
	MCU         string
	Board       string
	Toolchain   string
	Modules     []string
	APIs        []string
	Defines     []string
}

// DB is the parsed table.
type DB struct {
	rows  []Row
	byKey map[string]*Row
}

type SyntaxError string

func (e SyntaxError) Error() string {
	return string(e)
}

// defaultDuration is assumed for rows that carry no duration field,
// so the allocator always has a load estimate to work with.
const defaultDuration = 30 * time.Minute

// Load reads the table from a file.
func Load(path string) (*DB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads the line-oriented table format:
//
//	# comment
//	6.1: platform=esp32 mcu=esp32 board=esp32-devkitc toolchain=esp-idf \
//	     duration=25 modules=cell,wifi apis=mqtt,sockets defines=A=1,B
//	     description="ESP32 MQTT sanity"
//
// Each record is one line; values containing spaces are quoted.
func Parse(r io.Reader) (*DB, error) {
	db := &DB{byKey: make(map[string]*Row)}
	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		row, err := parseRow(line)
		if err != nil {
			return nil, SyntaxError("line " + strconv.Itoa(lineno) + ": " + err.Error())
		}
		if _, dup := db.byKey[row.Instance.String()]; dup {
			return nil, SyntaxError("line " + strconv.Itoa(lineno) + ": duplicate instance " + row.Instance.String())
		}
		db.rows = append(db.rows, row)
		db.byKey[row.Instance.String()] = &db.rows[len(db.rows)-1]
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return db, nil
}

func parseRow(line string) (Row, error) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return Row{}, SyntaxError("missing instance separator: " + line)
	}
	in, err := hilbot.ParseInstance(strings.TrimSpace(line[:i]))
	if err != nil {
		return Row{}, err
	}
	row := Row{Instance: in, Duration: defaultDuration}

	fields, err := splitQuoted(strings.TrimSpace(line[i+1:]))
	if err != nil {
		return Row{}, err
	}
	for _, f := range fields {
		j := strings.IndexByte(f, '=')
		if j < 0 {
			return Row{}, SyntaxError("bad field: " + f)
		}
		k, v := f[:j], f[j+1:]
		switch k {
		case "platform":
			row.Platform = v
		case "mcu":
			row.MCU = v
		case "board":
			row.Board = v
		case "toolchain":
			row.Toolchain = v
		case "description":
			row.Description = v
		case "duration":
			mins, err := strconv.Atoi(v)
			if err != nil {
				return Row{}, SyntaxError("bad duration: " + v)
			}
			row.Duration = time.Duration(mins) * time.Minute
		case "modules":
			row.Modules = splitList(v)
		case "apis":
			row.APIs = splitList(v)
		case "defines":
			row.Defines = splitList(v)
		default:
			return Row{}, SyntaxError("unknown field: " + k)
		}
	}
	return row, nil
}

// splitQuoted splits on spaces, keeping quoted spans (which may
// contain spaces) as single fields with the quotes removed.
func splitQuoted(s string) ([]string, error) {
	var fields []string
	for s != "" {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			break
		}
		if q := strings.IndexByte(s, '"'); q >= 0 && q < spanEnd(s) {
			end := strings.IndexByte(s[q+1:], '"')
			if end < 0 {
				return nil, SyntaxError("unterminated quote")
			}
			fields = append(fields, s[:q]+s[q+1:q+1+end])
			s = s[q+end+2:]
			continue
		}
		end := spanEnd(s)
		fields = append(fields, s[:end])
		s = s[end:]
	}
	return fields, nil
}

func spanEnd(s string) int {
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return i
	}
	return len(s)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// All returns every instance in the table, in file order.
func (db *DB) All() []hilbot.Instance {
	out := make([]hilbot.Instance, len(db.rows))
	for i, row := range db.rows {
		out[i] = row.Instance
	}
	return out
}

// Lookup returns the row for in.
func (db *DB) Lookup(in hilbot.Instance) (Row, bool) {
	row, ok := db.byKey[in.String()]
	if !ok {
		return Row{}, false
	}
	return *row, true
}

// ForAPI returns the instances covering the named API.
func (db *DB) ForAPI(name string) []hilbot.Instance {
	var out []hilbot.Instance
	for _, row := range db.rows {
		for _, api := range row.APIs {
			if api == name {
				out = append(out, row.Instance)
				break
			}
		}
	}
	return out
}

// ForPlatform returns the instances on the named platform.
func (db *DB) ForPlatform(platform string) []hilbot.Instance {
	var out []hilbot.Instance
	for _, row := range db.rows {
		if row.Platform == platform {
			out = append(out, row.Instance)
		}
	}
	return out
}

// ForPlatformMCU returns the instances matching platform and MCU.
func (db *DB) ForPlatformMCU(platform, mcu string) []hilbot.Instance {
	var out []hilbot.Instance
	for _, row := range db.rows {
		if row.Platform == platform && row.MCU == mcu {
			out = append(out, row.Instance)
		}
	}
	return out
}

// ForPlatformMCUToolchain narrows ForPlatformMCU by toolchain.
func (db *DB) ForPlatformMCUToolchain(platform, mcu, toolchain string) []hilbot.Instance {
	var out []hilbot.Instance
	for _, row := range db.rows {
		if row.Platform == platform && row.MCU == mcu && row.Toolchain == toolchain {
			out = append(out, row.Instance)
		}
	}
	return out
}

// HasAPI reports whether any row covers the named API.
func (db *DB) HasAPI(name string) bool {
	return len(db.ForAPI(name)) > 0
}

// HasPlatform reports whether any row uses the named platform.
func (db *DB) HasPlatform(platform string) bool {
	return len(db.ForPlatform(platform)) > 0
}

// HasToolchain reports whether toolchain appears for platform/mcu.
func (db *DB) HasToolchain(platform, mcu, toolchain string) bool {
	return len(db.ForPlatformMCUToolchain(platform, mcu, toolchain)) > 0
}

// DefinesFor returns the defines of in, nil for unknown instances.
func (db *DB) DefinesFor(in hilbot.Instance) []string {
	if row, ok := db.Lookup(in); ok {
		return row.Defines
	}
	return nil
}

// DurationFor returns the expected duration of in, or the default
// estimate for unknown instances.
func (db *DB) DurationFor(in hilbot.Instance) time.Duration {
	if row, ok := db.Lookup(in); ok {
		return row.Duration
	}
	return defaultDuration
}

// PlatformFor returns the platform of in, "" for unknown instances.
func (db *DB) PlatformFor(in hilbot.Instance) string {
	if row, ok := db.Lookup(in); ok {
		return row.Platform
	}
	return ""
}
