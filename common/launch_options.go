package common

import (
	"sort"
	"strings"
)

// DefaultArgs are the Chromium flags every launch starts from. User
// arguments with the same flag name override them.
func DefaultArgs() map[string]string {
	return map[string]string{
		"autoplay-policy":                        "no-user-gesture-required",
		"disable-background-networking":          "",
		"disable-background-timer-throttling":    "",
		"disable-backgrounding-occluded-windows": "",
		"disable-breakpad":                       "",
		"disable-default-apps":                   "",
		"disable-dev-shm-usage":                  "",
		"disable-hang-monitor":                   "",
		"disable-popup-blocking":                 "",
		"disable-prompt-on-repost":               "",
		"disable-renderer-backgrounding":         "",
		"metrics-recording-only":                 "",
		"no-default-browser-check":               "",
		"no-first-run":                           "",
		"password-store":                         "basic",
		"use-mock-keychain":                      "",
	}
}

// requiredArgs can't be overridden, the launcher depends on them to find
// and own the browser.
func requiredArgs(userDataDir string) map[string]string {
	return map[string]string{
		"remote-debugging-port": "0",
		"user-data-dir":         userDataDir,
	}
}

// BrowserArgs merges the default flags, the user's launch arguments and the
// required flags into a command line. Arguments that aren't flags are kept
// at the end, in order.
func BrowserArgs(userArgs []string, userDataDir string) []string {
	flags := DefaultArgs()
	var positional []string
	for _, a := range userArgs {
		if !strings.HasPrefix(a, "-") {
			positional = append(positional, a)
			continue
		}
		name, value := splitFlag(a)
		flags[name] = value
	}
	for name, value := range requiredArgs(userDataDir) {
		flags[name] = value
	}

	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]string, 0, len(names)+len(positional))
	for _, name := range names {
		arg := "--" + name
		if v := flags[name]; v != "" {
			arg += "=" + v
		}
		args = append(args, arg)
	}

	return append(args, positional...)
}

func splitFlag(arg string) (name, value string) {
	arg = strings.TrimLeft(arg, "-")
	if i := strings.IndexByte(arg, '='); i != -1 {
		return arg[:i], arg[i+1:]
	}
	return arg, ""
}
