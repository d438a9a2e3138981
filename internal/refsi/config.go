package refsi

import (
	"os"
	"strconv"
)

// SimConfig holds the environment-derived knobs the original driver reads at
// start up. An unset variable leaves its field at the default:
// defaultVLenBits for VLenMinBits, the zero value (disabled) for the rest.
// A boolean variable whose text is not a boolean counts as enabled when it
// is non-empty; an integer variable that does not parse, or a
// CA_RISCV_VLEN_BITS_MIN that is not positive, leaves the default.
type SimConfig struct {
	Debug        bool // REFSI_DEBUG
	HALDebug     bool // CA_HAL_DEBUG
	SpikeDebug   bool // SPIKE_SIM_DEBUG
	SpikeLogPath string
	ProfileLevel int // CA_PROFILE_LEVEL
	VLenMinBits  int // CA_RISCV_VLEN_BITS_MIN
}

const defaultVLenBits = 128

// ConfigFromEnv reads SimConfig from the process environment.
func ConfigFromEnv() SimConfig {
	cfg := SimConfig{VLenMinBits: defaultVLenBits}

	cfg.Debug = envBool("REFSI_DEBUG")
	cfg.HALDebug = envBool("CA_HAL_DEBUG")
	cfg.SpikeDebug = envBool("SPIKE_SIM_DEBUG")
	cfg.SpikeLogPath = os.Getenv("SPIKE_SIM_LOG")

	if v, ok := envInt("CA_PROFILE_LEVEL"); ok {
		cfg.ProfileLevel = v
	}

	if v, ok := envInt("CA_RISCV_VLEN_BITS_MIN"); ok && v > 0 {
		cfg.VLenMinBits = v
	}

	return cfg
}

func envBool(name string) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return v != ""
	}

	return b
}

func envInt(name string) (int, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}

	return n, true
}
