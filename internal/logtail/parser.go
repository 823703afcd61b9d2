package logtail

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bitville/postgres-agent/internal/domain"
)

// detailedPattern matches the common log_line_prefix form:
// "2024-01-02 15:04:05.000 UTC [1234] [app] [db] LOG:  message".
var detailedPattern = regexp.MustCompile(
	`^(?P<timestamp>\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(?:\.\d+)?)` +
		`(?:\s+\w+)?` +
		`\s+\[(?P<pid>\d+)\]` +
		`(?:\s+\[(?P<user>\w+)\])?` +
		`(?:\s+\[(?P<db>\w+)\])?` +
		`\s+(?P<level>\w+):\s+` +
		`(?P<message>(?s).*)`)

// permissivePattern tolerates prefixes that don't carry user/database
// tags, still anchored on a recognized log level.
var permissivePattern = regexp.MustCompile(
	`^(?P<timestamp>\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})` +
		`.*?\[(?P<pid>\d+)\]` +
		`.*?(?P<level>LOG|ERROR|WARNING|FATAL|PANIC|DEBUG|INFO|NOTICE):\s+` +
		`(?P<message>(?s).*)`)

var durationPattern = regexp.MustCompile(`duration:\s+([\d.]+)\s+ms`)
var statementPattern = regexp.MustCompile(`(?s)statement:\s+(.+)`)

// correlationPattern mirrors sampler.correlationPattern: an upstream
// application embeds this tag in the queries it issues, so it can surface
// in a logged statement just as it does in pg_stat_activity.application_name.
var correlationPattern = regexp.MustCompile(`bitville-([a-f0-9-]{36})`)

func namedGroups(re *regexp.Regexp, s string) map[string]string {
	match := re.FindStringSubmatch(s)
	if match == nil {
		return nil
	}
	out := make(map[string]string, len(match))
	for i, name := range re.SubexpNames() {
		if name != "" {
			out[name] = match[i]
		}
	}
	return out
}

// parseEntry turns one accumulated multi-line chunk into a record. It
// returns false when the text matches neither pattern.
func parseEntry(raw string) (domain.Record, bool) {
	groups := namedGroups(detailedPattern, raw)
	if groups == nil {
		groups = namedGroups(permissivePattern, raw)
	}
	if groups == nil {
		return domain.Record{}, false
	}

	pid, err := strconv.Atoi(groups["pid"])
	if err != nil {
		return domain.Record{}, false
	}

	message := groups["message"]
	data := map[string]any{
		"timestamp": groups["timestamp"],
		"pid":       pid,
		"level":     groups["level"],
		"message":   message,
	}
	if u := groups["user"]; u != "" {
		data["user"] = u
	}
	if d := groups["db"]; d != "" {
		data["database"] = d
	}
	if m := durationPattern.FindStringSubmatch(message); m != nil {
		if ms, err := strconv.ParseFloat(m[1], 64); err == nil {
			data["duration_ms"] = ms
		}
	}
	if m := statementPattern.FindStringSubmatch(message); m != nil {
		statement := m[1]
		if len(statement) > 2000 {
			statement = statement[:2000] + "…[truncated]"
		}
		data["statement"] = statement
	}

	record := domain.Record{Source: domain.SourcePgLog, Data: data}
	if m := correlationPattern.FindStringSubmatch(message); m != nil {
		record.CorrelationID = &m[1]
	}
	return record, true
}

// renderEntry is parseEntry's inverse for the detailed log_line_prefix
// format: renderEntry(record) fed back through parseEntry recovers the
// same timestamp/pid/level/message/user/database fields. It only covers
// entries built from those recognized fields, not the permissive format,
// which drops enough structure (no user/db groups, a fixed level set)
// that it isn't invertible.
func renderEntry(record domain.Record) (string, bool) {
	timestamp, ok := record.Data["timestamp"].(string)
	if !ok {
		return "", false
	}
	pid, ok := record.Data["pid"].(int)
	if !ok {
		return "", false
	}
	level, ok := record.Data["level"].(string)
	if !ok {
		return "", false
	}
	message, ok := record.Data["message"].(string)
	if !ok {
		return "", false
	}

	var b strings.Builder
	b.WriteString(timestamp)
	b.WriteString(" UTC")
	fmt.Fprintf(&b, " [%d]", pid)
	if user, ok := record.Data["user"].(string); ok && user != "" {
		fmt.Fprintf(&b, " [%s]", user)
	}
	if db, ok := record.Data["database"].(string); ok && db != "" {
		fmt.Fprintf(&b, " [%s]", db)
	}
	fmt.Fprintf(&b, " %s:  %s", level, message)
	return b.String(), true
}
