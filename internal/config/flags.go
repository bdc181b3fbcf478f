package config

import (
	"time"

	flag "github.com/spf13/pflag"
)

// RegisterFlags defines the flags that override configuration values.
// Only flags the user actually set are applied by ApplyFlags.
func RegisterFlags(fs *flag.FlagSet) {
	d := Default()
	fs.String("backend-name", d.Backend.Name, "Backend executable name under <resource-dir>/bin")
	fs.IntP("port", "p", d.Backend.Port, "Port the backend listens on (exported as PORT)")
	fs.String("host", d.Backend.Host, "Host the backend listens on (exported as HOST)")
	fs.String("data-dir", "", "Backend data directory (exported as DATA_DIR)")
	fs.String("probe", string(d.Readiness.Probe), "Readiness probe: tcp, http, file, none")
	fs.Duration("ready-timeout", time.Duration(d.Readiness.Timeout), "How long to wait for the backend to become ready")
	fs.String("on-timeout", d.Readiness.OnTimeout, "When the backend is not ready in time: abort, degrade")
	fs.Duration("grace", time.Duration(d.Shutdown.Grace), "Graceful shutdown period before the backend is killed")
	fs.Int("max-restarts", d.Restart.MaxAttempts, "Restarts offered after the backend exits unexpectedly")
	fs.String("log-level", d.Log.Level, "Log level: debug, info, warn, error")
	fs.String("log-format", d.Log.Format, "Log format: auto, text, json, journal")
}

// ApplyFlags copies explicitly set flags from fs into c.
func (c *Config) ApplyFlags(fs *flag.FlagSet) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "backend-name":
			c.Backend.Name, err = fs.GetString(f.Name)
		case "port":
			c.Backend.Port, err = fs.GetInt(f.Name)
		case "host":
			c.Backend.Host, err = fs.GetString(f.Name)
		case "data-dir":
			c.Backend.DataDir, err = fs.GetString(f.Name)
		case "probe":
			var v string
			v, err = fs.GetString(f.Name)
			c.Readiness.Probe = ProbeKind(v)
		case "ready-timeout":
			var v time.Duration
			v, err = fs.GetDuration(f.Name)
			c.Readiness.Timeout = Duration(v)
		case "on-timeout":
			c.Readiness.OnTimeout, err = fs.GetString(f.Name)
		case "grace":
			var v time.Duration
			v, err = fs.GetDuration(f.Name)
			c.Shutdown.Grace = Duration(v)
		case "max-restarts":
			c.Restart.MaxAttempts, err = fs.GetInt(f.Name)
		case "log-level":
			c.Log.Level, err = fs.GetString(f.Name)
		case "log-format":
			c.Log.Format, err = fs.GetString(f.Name)
		}
	})
	return err
}
