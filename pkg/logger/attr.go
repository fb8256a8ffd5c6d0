package logger

import "log/slog"

// Error records err under the key "error". A nil error yields an empty Attr,
// which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component records the emitting component under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// RequestID records the request identifier under the key "request_id".
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

// Identity records the entitlement key of the caller under the key "identity".
func Identity(key string) slog.Attr {
	if key == "" {
		return slog.Attr{}
	}
	return slog.String("identity", key)
}

// EventID records a payment event identifier under the key "event_id".
func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

// CheckID records a detection check identifier under the key "check_id".
func CheckID(id string) slog.Attr {
	return slog.String("check_id", id)
}

// Provider records the payment or inference provider name.
func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}

// Attempt records a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}
