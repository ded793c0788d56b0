// Package clock implements the time capability module, giving agents access
// to the current time and simple timestamp arithmetic.
package clock

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/module"
	"github.com/hupe1980/swarmer/tool"
)

// Kind is the module kind of the clock module.
const Kind = "time"

const humanLayout = "January 02, 2006 15:04:05"

const instructions = `Time instructions:
- Use get_current_time whenever the answer depends on the current date or time.
- Timestamps are Unix seconds; use format_timestamp and get_time_difference instead of computing by hand.`

type currentTimeArgs struct {
	Format string `json:"format,omitempty" description:"Output format" enum:"iso,unix,human"`
}

type formatArgs struct {
	Timestamp float64 `json:"timestamp" description:"Unix timestamp in seconds"`
	Format    string  `json:"format,omitempty" description:"Output format" enum:"iso,human"`
}

type differenceArgs struct {
	Timestamp1 float64 `json:"timestamp1" description:"First Unix timestamp"`
	Timestamp2 float64 `json:"timestamp2" description:"Second Unix timestamp"`
}

// Module is the clock capability module. It is stateless apart from its id.
type Module struct {
	id    string
	now   func() time.Time
	tools []*tool.Descriptor
}

// New creates a clock module. now defaults to time.Now.
func New(id string, now func() time.Time) *Module {
	if id == "" {
		id = uuid.NewString()
	}
	if now == nil {
		now = time.Now
	}
	m := &Module{id: id, now: now}
	m.tools = []*tool.Descriptor{
		tool.MustBind("get_current_time", "Get the current UTC time as iso, unix or human readable text.", m.currentTime),
		tool.MustBind("format_timestamp", "Format a Unix timestamp as iso or human readable text.", m.formatTimestamp),
		tool.MustBind("get_time_difference", "Calculate the difference between two Unix timestamps.", m.difference),
	}
	return m
}

// Factory is the module.Factory for the clock module.
func Factory(id string, _ module.Deps) (module.Module, error) {
	return New(id, nil), nil
}

func (m *Module) Kind() string              { return Kind }
func (m *Module) ID() string                { return m.id }
func (m *Module) Instructions() string      { return instructions }
func (m *Module) Tools() []*tool.Descriptor { return m.tools }

// LiveState renders the current UTC time.
func (m *Module) LiveState(core.Identity) string {
	return "Current time: " + m.now().UTC().Format(time.RFC3339)
}

func (m *Module) currentTime(_ core.Identity, args currentTimeArgs) (string, error) {
	now := m.now().UTC()
	switch args.Format {
	case "unix":
		return strconv.FormatInt(now.Unix(), 10), nil
	case "human":
		return now.Format(humanLayout), nil
	default:
		return now.Format(time.RFC3339), nil
	}
}

func (m *Module) formatTimestamp(_ core.Identity, args formatArgs) (string, error) {
	t := fromUnix(args.Timestamp)
	if args.Format == "iso" {
		return t.Format(time.RFC3339), nil
	}
	return t.Format(humanLayout), nil
}

func (m *Module) difference(_ core.Identity, args differenceArgs) (string, error) {
	diff := math.Abs(args.Timestamp2 - args.Timestamp1)
	return fmt.Sprintf("Time difference: %s (%g seconds)", humanize(diff), diff), nil
}

func fromUnix(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func humanize(seconds float64) string {
	total := int64(seconds)
	days := total / 86400
	hours := total % 86400 / 3600
	minutes := total % 3600 / 60
	secs := total % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%d days", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d hours", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%d minutes", minutes))
	}
	if secs > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%d seconds", secs))
	}
	return strings.Join(parts, ", ")
}

// Serialize implements module.Module.
func (m *Module) Serialize() (json.RawMessage, error) {
	return json.Marshal(struct {
		ID string `json:"id"`
	}{ID: m.id})
}

// Deserialize implements module.Module.
func (m *Module) Deserialize(_ core.Identity, raw json.RawMessage) error {
	var s struct {
		ID string `json:"id"`
	}
	return module.DecodeState(Kind, raw, &s, "id")
}
