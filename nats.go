// Package hookscript runs small Lua, JavaScript or JSONPath scripts over captured
// HTTP exchanges inside a sandbox that only exposes setResult, print, printerr
// and header to the guest.
package hookscript

import (
	"os"
	"strings"

	"github.com/nats-io/nats.go"
)

// SUBJECT_PREFIX is prepended to a script name to get the NATS subject it is served on
const SUBJECT_PREFIX = "hookscript."

func NatsUrlByEnv() string {
	if url := os.Getenv("NATS_URL"); url != "" {
		return url
	} else {
		return nats.DefaultURL
	}
}

// SubjectForScript returns the NATS subject serving the named script
func SubjectForScript(name string) string {
	return SUBJECT_PREFIX + name
}

// ScriptFromSubject extracts the script name from a subject built by SubjectForScript
func ScriptFromSubject(subject string) (string, bool) {
	name, found := strings.CutPrefix(subject, SUBJECT_PREFIX)
	if !found || name == "" {
		return "", false
	}

	return name, true
}
