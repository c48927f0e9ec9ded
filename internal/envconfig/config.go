// Package envconfig parses the TAMPI_* environment variables once, at library
// initialization, into a frozen Config value. Nothing in the core re-reads the
// environment after Load returns.
package envconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tampi-go/tampi/internal/logging"
)

// TestingApproach selects how in-flight requests are tested for completion.
type TestingApproach int

const (
	TestSome TestingApproach = iota
	TestAny
	Test
	TestNone
)

func parseTestingApproach(name, value string, allowNone bool) (TestingApproach, error) {
	switch strings.ToLower(value) {
	case "testsome":
		return TestSome, nil
	case "testany":
		return TestAny, nil
	case "test":
		return Test, nil
	case "none":
		if allowNone {
			return TestNone, nil
		}
	}
	return TestNone, fmt.Errorf("%s has invalid value %q", name, value)
}

// PollingPeriod is the min/max/policy triple controlling one polling task's period.
type PollingPeriod struct {
	Min    time.Duration
	Max    time.Duration
	Dynamic bool
}

func parsePollingPeriod(name, value string, def PollingPeriod) (PollingPeriod, error) {
	if value == "" {
		return def, nil
	}
	parts := strings.Split(value, ":")
	if len(parts) == 0 || len(parts) > 3 {
		return def, fmt.Errorf("%s has format 'min[:max[:policy]]'", name)
	}
	minUs, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return def, fmt.Errorf("%s has invalid min value: %w", name, err)
	}
	maxUs := minUs
	if len(parts) >= 2 {
		maxUs, err = strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return def, fmt.Errorf("%s has invalid max value: %w", name, err)
		}
	}
	if minUs > maxUs {
		return def, fmt.Errorf("%s: minimum period cannot be greater than maximum", name)
	}
	dynamic := minUs != maxUs
	if len(parts) == 3 {
		switch strings.ToLower(parts[2]) {
		// Two accepted spellings of the same policy: whether the period is
		// dynamic is governed solely by min != max.
		case "slowstart", "default":
		default:
			return def, fmt.Errorf("%s has invalid policy %q", name, parts[2])
		}
	}
	return PollingPeriod{
		Min:     time.Duration(minUs) * time.Microsecond,
		Max:     time.Duration(maxUs) * time.Microsecond,
		Dynamic: dynamic,
	}, nil
}

// Capacity is the min/max pair bounding in-flight requests per ticket manager.
type Capacity struct {
	Min uint64
	Max uint64
}

const HardCapacityLimit uint64 = 32 * 1024

func parseCapacity(value string) (Capacity, error) {
	def := Capacity{Min: 128, Max: HardCapacityLimit}
	if value == "" {
		return def, nil
	}
	parts := strings.Split(value, ":")
	if len(parts) == 0 || len(parts) > 2 {
		return def, fmt.Errorf("TAMPI_CAPACITY has format 'min[:max]'")
	}
	min, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return def, fmt.Errorf("TAMPI_CAPACITY has invalid min value: %w", err)
	}
	max := min
	if len(parts) == 2 {
		max, err = strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return def, fmt.Errorf("TAMPI_CAPACITY has invalid max value: %w", err)
		}
	}
	if min > max {
		return def, fmt.Errorf("minimum capacity cannot be greater than maximum")
	}
	if min > HardCapacityLimit {
		min = HardCapacityLimit
	}
	if max > HardCapacityLimit {
		max = HardCapacityLimit
	}
	return Capacity{Min: min, Max: max}, nil
}

// Instrument selects the instrumentation backend.
type Instrument int

const (
	InstrumentNone Instrument = iota
	InstrumentOvni
)

// Config is the frozen, parsed-once view of every TAMPI_* environment variable.
type Config struct {
	PollingPeriod              PollingPeriod
	PollingTaskCompletion      bool
	PollingTaskCompletionPeriod PollingPeriod
	Capacity                   Capacity
	CapacityTimeout             time.Duration
	RequestsTesting             TestingApproach
	RequestsImmediateTesting    TestingApproach
	QueuesFullFailure           bool
	Instrument                  Instrument
}

func defaultConfig() Config {
	p := PollingPeriod{Min: 100 * time.Microsecond, Max: 100 * time.Microsecond}
	return Config{
		PollingPeriod:               p,
		PollingTaskCompletion:       true,
		PollingTaskCompletionPeriod: p,
		Capacity:                    Capacity{Min: 128, Max: HardCapacityLimit},
		CapacityTimeout:             10 * time.Millisecond,
		RequestsTesting:             TestSome,
		RequestsImmediateTesting:    TestSome,
		QueuesFullFailure:           false,
		Instrument:                  InstrumentNone,
	}
}

// Load reads the process environment once and returns a frozen Config.
// Any malformed value is a configuration error and returns a non-nil error;
// callers are expected to treat that as fatal, per the error handling design.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TAMPI")
	v.AutomaticEnv()
	for _, key := range []string{
		"polling_period", "polling_frequency",
		"polling_task_completion", "polling_task_completion_period",
		"capacity", "capacity_timeout",
		"requests_testing", "requests_immediate_testing",
		"queues_full_failure", "instrument",
	} {
		_ = v.BindEnv(key)
	}

	cfg := defaultConfig()

	if v.IsSet("polling_frequency") {
		logging.Warn("TAMPI_POLLING_FREQUENCY is deprecated; use TAMPI_POLLING_PERIOD instead")
	}

	periodRaw := v.GetString("polling_period")
	if periodRaw == "" && v.IsSet("polling_frequency") {
		periodRaw = v.GetString("polling_frequency")
	}
	period, err := parsePollingPeriod("TAMPI_POLLING_PERIOD", periodRaw, cfg.PollingPeriod)
	if err != nil {
		return Config{}, err
	}
	cfg.PollingPeriod = period

	if v.IsSet("polling_task_completion") {
		cfg.PollingTaskCompletion = v.GetBool("polling_task_completion")
	}

	compPeriod, err := parsePollingPeriod(
		"TAMPI_POLLING_TASK_COMPLETION_PERIOD",
		v.GetString("polling_task_completion_period"),
		cfg.PollingTaskCompletionPeriod,
	)
	if err != nil {
		return Config{}, err
	}
	cfg.PollingTaskCompletionPeriod = compPeriod

	capacity, err := parseCapacity(v.GetString("capacity"))
	if err != nil {
		return Config{}, err
	}
	cfg.Capacity = capacity

	if v.IsSet("capacity_timeout") {
		ms := v.GetUint64("capacity_timeout")
		cfg.CapacityTimeout = time.Duration(ms) * time.Millisecond
	}

	if v.IsSet("requests_testing") {
		approach, err := parseTestingApproach("TAMPI_REQUESTS_TESTING", v.GetString("requests_testing"), false)
		if err != nil {
			return Config{}, err
		}
		cfg.RequestsTesting = approach
		cfg.RequestsImmediateTesting = approach
	}
	if v.IsSet("requests_immediate_testing") {
		approach, err := parseTestingApproach("TAMPI_REQUESTS_IMMEDIATE_TESTING", v.GetString("requests_immediate_testing"), true)
		if err != nil {
			return Config{}, err
		}
		cfg.RequestsImmediateTesting = approach
	}

	if v.IsSet("queues_full_failure") {
		cfg.QueuesFullFailure = v.GetBool("queues_full_failure")
	}

	if v.IsSet("instrument") {
		switch strings.ToLower(v.GetString("instrument")) {
		case "", "none":
			cfg.Instrument = InstrumentNone
		case "ovni":
			cfg.Instrument = InstrumentOvni
		default:
			return Config{}, fmt.Errorf("TAMPI_INSTRUMENT has invalid value %q", v.GetString("instrument"))
		}
	}

	return cfg, nil
}
