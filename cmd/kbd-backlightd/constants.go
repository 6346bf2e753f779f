package main

// Hardware surface defaults (ChromeOS EC keyboard backlight, e.g. Framework 13)
const (
	defaultBrightnessPath    = "/sys/class/leds/chromeos::kbd_backlight/brightness"
	defaultMaxBrightnessPath = "/sys/class/leds/chromeos::kbd_backlight/max_brightness"
)

// Behaviour defaults
const (
	defaultTimeoutSec     = 5
	defaultFadeSteps      = 10
	defaultFadeIntervalMS = 50
	defaultDimBrightness  = 0

	// targetFromHardware means "derive the on level from the surface at startup".
	targetFromHardware = -1
)

// Polling cadence for external brightness changes (Fn+Space on the EC does not
// emit uevents, so the surface has to be re-read):
//   - Active: short wait so hotkey presses are picked up promptly
//   - Dimmed / UserDisabled: long wait, nobody is looking at the keyboard
const (
	defaultActivePollMS = 200
	defaultIdlePollMS   = 2000
)

// Input enumeration
const (
	defaultInputDir  = "/dev/input"
	inputNodePattern = "event*"
	maxInputDevices  = 32
	minLetterKeys    = 5
)

const (
	defaultConfigPath = "/etc/kbd-backlight-daemon.conf"
	configPathEnv     = "KBD_BACKLIGHT_CONFIG"
	detachedEnv       = "KBD_BACKLIGHTD_DETACHED"

	defaultLogindSession = "/org/freedesktop/login1/session/auto"
)

// Brightness write backends
const (
	writeMethodSysfs  = "sysfs"
	writeMethodLogind = "logind"
)
