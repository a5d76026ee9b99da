package log

// LoggerConfig configures level, formatting and appenders.
type LoggerConfig struct {
	Level     string           `mapstructure:"level"`
	Format    string           `mapstructure:"format"` // pattern / text / json
	Pattern   string           `mapstructure:"pattern"`
	Time      string           `mapstructure:"time"`
	Appenders []AppenderConfig `mapstructure:"appenders"`
	Formatter FormatterConfig  `mapstructure:"formatter"`
}

// AppenderConfig selects an output. Options are decoded per appender type.
type AppenderConfig struct {
	Type    string                 `mapstructure:"type"` // console / file
	Options map[string]interface{} `mapstructure:"options"`
}

// FormatterConfig tunes the text formatter.
type FormatterConfig struct {
	EnableColors   bool `mapstructure:"enable_colors"`
	FullTimestamp  bool `mapstructure:"full_timestamp"`
	DisableSorting bool `mapstructure:"disable_sorting"`
}

const (
	DefaultPattern = "%time [%level] %field %msg\n"
	DefaultTime    = "2006-01-02 15:04:05.000"
)
