package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuildID    = "build_id"
	KeyStep       = "step"
	KeyStepStatus = "step_status"
	KeyCommand    = "command"
	KeyOther      = "other_command"
	KeyLocation   = "location"
	KeyCacheKey   = "cache_key"
	KeyHash       = "hash"
	KeyGeneration = "generation"
	KeyRaceKind   = "race_kind"
	KeyPath       = "path"
	KeyWorker     = "worker"
	KeySubject    = "subject"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BuildID(id string) slog.Attr       { return slog.String(KeyBuildID, id) }
func Step(title string) slog.Attr       { return slog.String(KeyStep, title) }
func StepStatus(s string) slog.Attr     { return slog.String(KeyStepStatus, s) }
func Command(title string) slog.Attr    { return slog.String(KeyCommand, title) }
func OtherCommand(t string) slog.Attr   { return slog.String(KeyOther, t) }
func Location(loc string) slog.Attr     { return slog.String(KeyLocation, loc) }
func CacheKey(key string) slog.Attr     { return slog.String(KeyCacheKey, key) }
func Hash(h string) slog.Attr           { return slog.String(KeyHash, h) }
func Generation(g int) slog.Attr        { return slog.Int(KeyGeneration, g) }
func RaceKind(kind string) slog.Attr    { return slog.String(KeyRaceKind, kind) }
func Path(p string) slog.Attr           { return slog.String(KeyPath, p) }
func Worker(w string) slog.Attr         { return slog.String(KeyWorker, w) }
func Subject(s string) slog.Attr        { return slog.String(KeySubject, s) }
func DurationMS(ms float64) slog.Attr   { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
