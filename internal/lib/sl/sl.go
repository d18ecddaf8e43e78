package sl

import "log/slog"

// Err returns a slog attribute for an error value.
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Module returns a slog attribute naming the component a logger belongs to.
func Module(name string) slog.Attr {
	return slog.Attr{
		Key:   "module",
		Value: slog.StringValue(name),
	}
}

// Secret returns a slog attribute with all but the first characters masked,
// so credentials can be traced without being leaked into logs.
func Secret(key, value string) slog.Attr {
	masked := value
	if len(masked) > 4 {
		masked = masked[:4] + "****"
	} else if masked != "" {
		masked = "****"
	}
	return slog.Attr{
		Key:   key,
		Value: slog.StringValue(masked),
	}
}
