// Package utils defines a set of utility functions used across the ecd project.
package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger sets the global logger to a console logger tagged with app, at
// the given level. An empty level means info.
func InitLogger(app, level string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		if lvl, err = zerolog.ParseLevel(level); err != nil {
			return zerolog.Logger{}, fmt.Errorf("invalid log level: %w", err)
		}
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).Level(lvl).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger, nil
}

// MarshalJSONToFile attempts to write s to a file with file name filename,
// by calling WriteJSON.
func MarshalJSONToFile(s interface{}, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("could not open file: %w", err)
	}
	if err := WriteJSON(file, s); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteJSON writes the indented JSON encoding of s to w.
func WriteJSON(w io.Writer, s interface{}) error {
	marshalled, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal object: %w", err)
	}
	if _, err = w.Write(append(marshalled, '\n')); err != nil {
		return fmt.Errorf("could not write object: %w", err)
	}
	return nil
}

// ByteCountSI returns a string representation of a byte count b,
// by formatting it as a SI value.
func ByteCountSI(b uint64) string {
	const unit = 1000
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(b)/float64(div), "kMGTPE"[exp])
}
