// Package voices manages the audio prompt library: predefined voices
// shipped with the server and reference clips uploaded for cloning.
package voices

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-audio/wav"

	"github.com/voxalabs/voxa-server/internal/config"
)

var ErrVoiceNotFound = errors.New("voice not found")

const (
	KindPredefined = "predefined"
	KindReference  = "reference"
)

// Voice is one entry in the library.
type Voice struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
	Path       string    `json:"-"`
}

// Library resolves voice ids to audio prompt files on disk.
type Library struct {
	cfg config.VoicesConfig
	log *slog.Logger
}

func NewLibrary(cfg config.VoicesConfig, log *slog.Logger) (*Library, error) {
	for _, dir := range []string{cfg.PredefinedDir, cfg.ReferenceDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create voices dir: %w", err)
		}
	}
	return &Library{cfg: cfg, log: log.With(slog.String("component", "voices"))}, nil
}

// Resolve maps a voice id to its file. Ids match by exact filename or
// by basename without extension, predefined voices first. An empty id
// resolves the configured default voice.
func (l *Library) Resolve(id string) (Voice, error) {
	return l.resolve(id, "")
}

// ResolveKind restricts the lookup to one side of the library, for
// callers that know whether they want a predefined or reference voice.
func (l *Library) ResolveKind(id, kind string) (Voice, error) {
	return l.resolve(id, kind)
}

func (l *Library) resolve(id, kind string) (Voice, error) {
	if strings.TrimSpace(id) == "" {
		id = l.cfg.DefaultVoice
	}
	id = filepath.Base(id)

	dirs := []struct {
		path string
		kind string
	}{
		{l.cfg.PredefinedDir, KindPredefined},
		{l.cfg.ReferenceDir, KindReference},
	}
	candidates := []string{id}
	if filepath.Ext(id) == "" {
		candidates = append(candidates, id+".wav", id+".mp3")
	}
	for _, dir := range dirs {
		if dir.path == "" || (kind != "" && dir.kind != kind) {
			continue
		}
		for _, name := range candidates {
			full := filepath.Join(dir.path, name)
			info, err := os.Stat(full)
			if err != nil || info.IsDir() {
				continue
			}
			return voiceFromFile(full, dir.kind, info), nil
		}
	}
	return Voice{}, fmt.Errorf("%q: %w", id, ErrVoiceNotFound)
}

// List returns the predefined and reference voices, each sorted by id.
func (l *Library) List() (predefined, reference []Voice, err error) {
	predefined, err = listDir(l.cfg.PredefinedDir, KindPredefined)
	if err != nil {
		return nil, nil, err
	}
	reference, err = listDir(l.cfg.ReferenceDir, KindReference)
	if err != nil {
		return nil, nil, err
	}
	return predefined, reference, nil
}

func listDir(dir, kind string) ([]Voice, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read voices dir: %w", err)
	}
	var out []Voice
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".wav" && ext != ".mp3" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, voiceFromFile(filepath.Join(dir, entry.Name()), kind, info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func voiceFromFile(path, kind string, info os.FileInfo) Voice {
	name := info.Name()
	return Voice{
		ID:         name,
		Name:       strings.TrimSuffix(name, filepath.Ext(name)),
		Kind:       kind,
		SizeBytes:  info.Size(),
		ModifiedAt: info.ModTime(),
		Path:       path,
	}
}

// SaveReference stores an uploaded clip in the reference directory.
// The name is sanitized, duplicates are rejected, and WAV uploads are
// decoded to verify they are usable prompts; invalid files are removed
// again.
func (l *Library) SaveReference(name string, r io.Reader) (Voice, error) {
	clean, err := sanitizeFilename(name)
	if err != nil {
		return Voice{}, err
	}
	full := filepath.Join(l.cfg.ReferenceDir, clean)
	if _, err := os.Stat(full); err == nil {
		return Voice{}, fmt.Errorf("reference voice %q already exists", clean)
	}

	f, err := os.Create(full)
	if err != nil {
		return Voice{}, fmt.Errorf("write reference voice: %w", err)
	}
	written, err := io.Copy(f, r)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(full)
		return Voice{}, fmt.Errorf("write reference voice: %w", err)
	}
	if written == 0 {
		os.Remove(full)
		return Voice{}, fmt.Errorf("reference voice %q is empty", clean)
	}

	if strings.EqualFold(filepath.Ext(clean), ".wav") {
		if err := l.validateWAV(full); err != nil {
			os.Remove(full)
			return Voice{}, err
		}
	}

	info, err := os.Stat(full)
	if err != nil {
		return Voice{}, fmt.Errorf("stat reference voice: %w", err)
	}
	l.log.Info("reference voice saved",
		slog.String("file", clean),
		slog.Int64("bytes", info.Size()))
	return voiceFromFile(full, KindReference, info), nil
}

func (l *Library) validateWAV(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open reference voice: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return fmt.Errorf("reference voice is not a decodable wav file")
	}
	if l.cfg.MaxReferenceSeconds > 0 {
		dur, err := dec.Duration()
		if err != nil {
			return fmt.Errorf("read reference voice duration: %w", err)
		}
		max := time.Duration(l.cfg.MaxReferenceSeconds) * time.Second
		if dur > max {
			return fmt.Errorf("reference voice is %s long, limit is %s", dur.Round(time.Millisecond), max)
		}
	}
	return nil
}

// sanitizeFilename strips any path components and restricts the stem
// to a safe character set. Spaces become underscores.
func sanitizeFilename(name string) (string, error) {
	name = filepath.Base(strings.TrimSpace(name))
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".wav" && ext != ".mp3" {
		return "", fmt.Errorf("unsupported reference extension %q, need .wav or .mp3", ext)
	}
	stem := name[:len(name)-len(ext)]
	var b strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "", errors.New("reference filename has no usable characters")
	}
	return b.String() + ext, nil
}
