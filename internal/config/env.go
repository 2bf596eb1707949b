package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// env reads variables sharing a prefix and collects one error per bad value.
type env struct {
	prefix string
	lookup func(string) (string, bool)
	errs   []string
}

func newEnv(prefix string) *env {
	return &env{prefix: prefix, lookup: os.LookupEnv}
}

func (e *env) get(key string) string {
	v, _ := e.lookup(e.prefix + key)
	return strings.TrimSpace(v)
}

func (e *env) fail(key string, err error) {
	e.errs = append(e.errs, e.prefix+key+": "+err.Error())
}

// str overwrites dst when the variable is set and not blank.
func (e *env) str(key string, dst *string) {
	setIfPresent(dst, e.get(key))
}

func (e *env) lower(key string, dst *string) {
	setIfPresent(dst, strings.ToLower(e.get(key)))
}

// secret reads key, or the file named by key_FILE. The file wins when both
// are set, and an unreadable file is an error rather than a silent fallback.
func (e *env) secret(key string, dst *string) {
	if path := e.get(key + "_FILE"); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			e.fail(key+"_FILE", err)
			return
		}
		setIfPresent(dst, strings.TrimSpace(string(content)))
		return
	}
	e.str(key, dst)
}

func (e *env) boolean(key string, dst *bool) {
	v := e.get(key)
	if v == "" {
		return
	}
	b, err := parseBool(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = b
}

func (e *env) duration(key string, dst *time.Duration) {
	v := e.get(key)
	if v == "" {
		return
	}
	d, err := parseDuration(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = d
}

// parseBool accepts true/false, 1/0, yes/no and on/off in any case.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}

func setIfPresent(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
