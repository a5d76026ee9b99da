package log

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// patternFormatter renders entries through a pattern with the placeholders
// %time, %level, %field, %msg, %caller and %func.
type patternFormatter struct {
	pattern string
	time    string
}

func (f *patternFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	r := strings.NewReplacer(
		"%time", entry.Time.Format(f.time),
		"%level", strings.ToUpper(entry.Level.String()),
		"%field", buildFields(entry),
		"%msg", entry.Message,
		"%caller", caller(entry),
		"%func", function(entry),
	)
	return []byte(r.Replace(f.pattern)), nil
}

// caller renders package/file:line when caller reporting is on.
func caller(entry *logrus.Entry) string {
	if !entry.HasCaller() {
		return "-"
	}
	file := entry.Caller.File
	if i := strings.LastIndex(file, "/"); i != -1 {
		file = file[i+1:]
	}
	pkg := ""
	if fn := entry.Caller.Function; fn != "" {
		if i := strings.LastIndex(fn, "/"); i != -1 {
			fn = fn[i+1:]
		}
		pkg, _, _ = strings.Cut(fn, ".")
	}
	return fmt.Sprintf("%s/%s:%d", pkg, file, entry.Caller.Line)
}

func function(entry *logrus.Entry) string {
	if !entry.HasCaller() {
		return "-"
	}
	fn := entry.Caller.Function
	if i := strings.LastIndex(fn, "."); i != -1 {
		return fn[i+1:]
	}
	return fn
}

// buildFields renders fields as k=v pairs in key order.
func buildFields(entry *logrus.Entry) string {
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		val := entry.Data[k]
		s, ok := val.(string)
		if !ok {
			s = fmt.Sprint(val)
		}
		fields = append(fields, k+"="+s)
	}
	return strings.Join(fields, ",")
}

func newFormatter(cfg *LoggerConfig) (logrus.Formatter, error) {
	timeFormat := cfg.Time
	if timeFormat == "" {
		timeFormat = DefaultTime
	}

	switch strings.ToLower(cfg.Format) {
	case "", "pattern":
		pattern := cfg.Pattern
		if pattern == "" {
			pattern = DefaultPattern
		}
		return &patternFormatter{pattern: pattern, time: timeFormat}, nil
	case "text":
		return &prefixed.TextFormatter{
			ForceColors:     cfg.Formatter.EnableColors,
			DisableColors:   !cfg.Formatter.EnableColors,
			FullTimestamp:   cfg.Formatter.FullTimestamp,
			TimestampFormat: timeFormat,
			DisableSorting:  cfg.Formatter.DisableSorting,
		}, nil
	case "json":
		return &logrus.JSONFormatter{TimestampFormat: timeFormat}, nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be pattern, text or json)", cfg.Format)
	}
}
