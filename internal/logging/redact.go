package logging

import (
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// RedactingEncoder wraps a zapcore.Encoder and replaces values of sensitive keys.
type RedactingEncoder struct {
	zapcore.Encoder
	keys map[string]bool
}

// NewRedactingEncoder wraps base so that the listed keys are never written verbatim.
func NewRedactingEncoder(base zapcore.Encoder, keys []string) *RedactingEncoder {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[strings.ToLower(k)] = true
	}
	return &RedactingEncoder{Encoder: base, keys: set}
}

func (e *RedactingEncoder) sensitive(key string) bool {
	return e.keys[strings.ToLower(key)]
}

// AddString redacts sensitive keys.
func (e *RedactingEncoder) AddString(key, val string) {
	if e.sensitive(key) && val != "" {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddString(key, val)
}

// AddByteString redacts sensitive keys.
func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddByteString(key, val)
}

// AddReflected redacts the whole value when the key is sensitive.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

// Clone creates a copy of the encoder.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), keys: e.keys}
}

// EncodeEntry redacts sensitive fields attached at the call site.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	clean := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		if e.sensitive(f.Key) && (f.Type == zapcore.StringType || f.Type == zapcore.ReflectType || f.Type == zapcore.StringerType) {
			f = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: redacted}
		}
		clean[i] = f
	}
	return e.Encoder.EncodeEntry(ent, clean)
}
